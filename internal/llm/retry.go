package llm

import (
	"errors"
	"net"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
	goopenai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// transportStatus digs the HTTP status out of a provider SDK error and
// reports whether the failure is worth retrying (429, 5xx, timeouts).
func transportStatus(err error) (int, bool) {
	var anthErr *anthropic.Error
	if errors.As(err, &anthErr) {
		return anthErr.StatusCode, retryableStatus(anthErr.StatusCode)
	}
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode, retryableStatus(oaErr.StatusCode)
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, retryableStatus(reqErr.HTTPStatusCode)
	}
	var gemErr genai.APIError
	if errors.As(err, &gemErr) {
		return gemErr.Code, retryableStatus(gemErr.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return 0, true
	}
	return 0, false
}

func retryableStatus(status int) bool {
	return status == 429 || status >= 500
}
