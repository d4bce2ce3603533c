package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
)

// ChatJSON issues a schema-constrained chat request and unmarshals the
// result into out, retrying exactly once with a repair prompt appended
// if the first response fails to unmarshal or fails validate. This is
// the single consolidated structured-output call path: every caller
// that needs JSON out of the model goes through here rather than
// hand-rolling its own parse-then-retry loop.
func ChatJSON(ctx context.Context, model ChatModel, req ChatRequest, out any, validate func() error) error {
	if req.Schema == nil {
		return fmt.Errorf("llmclient: ChatJSON requires a schema")
	}

	resp, err := model.Chat(ctx, req)
	if err == nil {
		if perr := parseAndValidate(resp.JSON, out, validate); perr == nil {
			return nil
		}
	}

	repairReq := req
	repairReq.Messages = append(append([]ChatMessage{}, req.Messages...), ChatMessage{
		Role: RoleUser,
		Content: fmt.Sprintf(
			"Your previous response did not satisfy the required %q schema. "+
				"Call the tool again with a corrected response.", req.Schema.Name),
	})

	resp2, err2 := model.Chat(ctx, repairReq)
	if err2 != nil {
		if err != nil {
			return err
		}
		return err2
	}
	return parseAndValidate(resp2.JSON, out, validate)
}

func parseAndValidate(raw []byte, out any, validate func() error) error {
	if len(raw) == 0 {
		return fmt.Errorf("llmclient: empty structured-output payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("llmclient: unmarshal structured output: %w", err)
	}
	if validate != nil {
		return validate()
	}
	return nil
}
