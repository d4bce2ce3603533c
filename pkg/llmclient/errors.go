package llmclient

import (
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"

	"github.com/dbincident/diagd/pkg/diagerr"
)

// classifyAnthropicErr maps an Anthropic API error onto the shared error
// taxonomy so callers upstream of llmclient never need to inspect a
// provider-specific error type.
func classifyAnthropicErr(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return diagerr.Wrap(diagerr.KindTransientUpstream, "anthropic request failed", err)
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusBadGateway, http.StatusInternalServerError:
		return diagerr.Wrap(diagerr.KindTransientUpstream, "anthropic request failed", apiErr)
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest, http.StatusNotFound:
		return diagerr.Wrap(diagerr.KindPermanentUpstream, "anthropic request failed", apiErr)
	default:
		return diagerr.Wrap(diagerr.KindTransientUpstream, "anthropic request failed", apiErr)
	}
}

// classifyOpenAIErr maps an OpenAI API error onto the shared taxonomy.
func classifyOpenAIErr(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return diagerr.Wrap(diagerr.KindTransientUpstream, "openai request failed", err)
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusBadGateway, http.StatusInternalServerError:
		return diagerr.Wrap(diagerr.KindTransientUpstream, "openai request failed", apiErr)
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest, http.StatusNotFound:
		return diagerr.Wrap(diagerr.KindPermanentUpstream, "openai request failed", apiErr)
	default:
		return diagerr.Wrap(diagerr.KindTransientUpstream, "openai request failed", apiErr)
	}
}
