package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Request is one in-flight evaluation.
type Request struct {
	ID          int64
	Script      string
	SubmittedAt time.Time
}

// wrapTemplate evaluates the caller's fragment through indirect eval of a
// JSON string literal, so the fragment cannot escape the enclosing call, and
// reports the serialized value back through the bridge object.
const wrapTemplate = `(function () {
  var bridge = %[1]s;
  var value;
  try {
    value = (0, eval)(%[3]s);
  } catch (e) {
    bridge.onError(%[2]d, String(e && e.message !== undefined ? e.message : e));
    return;
  }
  var out;
  if (value === undefined || value === null) {
    out = "";
  } else if (typeof value === "string") {
    out = value;
  } else if (typeof value === "object") {
    try { out = JSON.stringify(value); } catch (e) { out = undefined; }
    if (out === undefined) { out = String(value); }
  } else {
    out = String(value);
  }
  bridge.onResult(%[2]d, out);
})();`

// WrapScript builds the text the surface evaluates for request id.
func WrapScript(bridgeName string, id int64, script string) (string, error) {
	literal, err := sonic.MarshalString(script)
	if err != nil {
		return "", fmt.Errorf("encode script: %w", err)
	}
	// U+2028 and U+2029 are valid in JSON but end lines in older JS parsers.
	literal = strings.NewReplacer("\u2028", `\u2028`, "\u2029", `\u2029`).Replace(literal)
	return fmt.Sprintf(wrapTemplate, bridgeName, id, literal), nil
}

// executionTask is the unit of work posted to the UI loop for one request.
type executionTask struct {
	session *Session
	request Request
}

// run must execute on the UI loop.
func (t *executionTask) run() {
	s := t.session
	id := t.request.ID

	text, err := WrapScript(s.config.BridgeName, id, t.request.Script)
	if err != nil {
		s.registry.Fail(id, &EvaluationError{Message: err.Error()})
		return
	}

	s.surface.Evaluate(text, func(_ string, err error) {
		switch {
		case err == nil:
			return
		case errors.Is(err, ErrSurfaceDestroyed):
			s.shutdown(fmt.Errorf("%w: %v", ErrSchedulingFailure, err))
		case errors.Is(err, ErrPageInvalidated):
			s.registry.Fail(id, err)
		default:
			// The wrapper never throws on its own; an error here means the page
			// could not run it at all (missing bridge object, interrupted).
			if s.registry.Fail(id, &EvaluationError{Message: err.Error()}) {
				s.logger.Debug("evaluation failed before reporting",
					zap.Int64("id", id),
					zap.Error(err),
				)
			}
		}
	})
}
