package cli

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/marketlens/gateway/internal/client"
)

// Describe turns err into a message that tells the user what to do next.
func Describe(err error) string {
	var (
		netErr    *client.NetworkError
		httpErr   *client.HTTPError
		malformed *client.MalformedResponseError
		jobErr    *JobFailedError
	)
	switch {
	case errors.As(err, &jobErr):
		return fmt.Sprintf("Job %s failed on the gateway: %s", jobErr.ID, jobErr.Reason)

	case errors.As(err, &netErr):
		return fmt.Sprintf("Could not reach the gateway at %s after %d attempts (%v). "+
			"Check your connection, or point the CLI elsewhere with --api-url / MARKETLENS_API_URL.",
			netErr.URL, netErr.Attempts, netErr.Err)

	case errors.As(err, &httpErr):
		return describeHTTPError(httpErr)

	case errors.As(err, &malformed):
		return fmt.Sprintf("The gateway answered with something that is not JSON (%q). "+
			"Make sure --api-url points at the MarketLens gateway and not a web page.", malformed.Excerpt)

	default:
		return err.Error()
	}
}

func describeHTTPError(e *client.HTTPError) string {
	msg := e.Message
	if msg == "" {
		msg = e.Body
	}

	switch e.Code {
	case "BACKEND_MISCONFIGURED":
		missing := "the backend settings"
		if list, ok := e.Details["missing"].([]any); ok && len(list) > 0 {
			names := make([]string, 0, len(list))
			for _, v := range list {
				names = append(names, fmt.Sprint(v))
			}
			missing = strings.Join(names, ", ")
		}
		return fmt.Sprintf("The gateway is running but cannot reach the analysis backend: %s not set on the gateway. "+
			"Ask the operator to configure it.", missing)
	case "BACKEND_INVALID_RESPONSE":
		if hint, ok := e.Details["hint"].(string); ok && hint != "" {
			return fmt.Sprintf("The analysis backend failed (%d): %s", e.Status, hint)
		}
	case "QUEUE_FULL":
		return "Your job queue is full: too many jobs are still pending or processing. Wait for them to finish and try again."
	}

	switch e.Status {
	case http.StatusUnauthorized:
		return fmt.Sprintf("Not authorized (%s). Run `marketlens login` and try again.", msg)
	case http.StatusTooManyRequests:
		if retry, ok := e.Details["retryAfter"]; ok {
			return fmt.Sprintf("Rate limited by the gateway. Try again in %vs.", retry)
		}
		return "Rate limited by the gateway. Wait a minute and try again."
	case http.StatusBadRequest:
		return fmt.Sprintf("The gateway rejected the request: %s", msg)
	case http.StatusNotFound:
		return fmt.Sprintf("Not found: %s", msg)
	}
	return fmt.Sprintf("Gateway error %d %s: %s", e.Status, e.StatusText, msg)
}
