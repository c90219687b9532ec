package api

import (
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfnotes/shelfnotes-server/internal/http/response"
)

// EnvelopeTransformer wraps every huma response body in the shared
// envelope: {"v":1,"success":true,"data":...} for results and
// {"v":1,"success":false,"error":...,"code":...} for errors.
func EnvelopeTransformer(_ huma.Context, status string, v any) (any, error) {
	switch body := v.(type) {
	case response.Envelope:
		return body, nil
	case *APIError:
		code := body.Code
		if code == "" {
			code = statusToCode(statusCode(status))
		}
		env := response.Fail(code, body.Message, body.Details)
		env.Kind = body.Kind
		return env, nil
	case error:
		return response.Fail(statusToCode(statusCode(status)), body.Error(), nil), nil
	default:
		return response.Ok(v), nil
	}
}

func statusCode(status string) int {
	n, err := strconv.Atoi(status)
	if err != nil {
		return 0
	}
	return n
}
