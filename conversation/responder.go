package conversation

import (
	"context"

	"github.com/BaSui01/chatflow/llm"
)

// Reply is what an internal responder contributes for one trigger. Role
// defaults to assistant and AuthorName to the responder's name when left
// empty. A nil reply or empty content means the responder declines.
type Reply struct {
	Role       llm.Role
	Content    string
	AuthorName string
}

// Responder is a non-scheduled side-assistant offered every appended seed and
// assistant turn, in registration order. Its injected turns carry a nil
// participant id and never consume a scheduler slot. Responder failures are
// isolated: an error (or panic) is logged and the run proceeds unaffected.
type Responder interface {
	Name() string
	ShouldHandle(latest Turn, log []Turn) bool
	HandleMessage(ctx context.Context, latest Turn, log []Turn) (*Reply, error)
}
