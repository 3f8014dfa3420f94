package platform

import (
	"errors"
	"net"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

func statusCode(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode
	}
	return 0
}

func IsForbidden(err error) bool {
	return statusCode(err) == http.StatusForbidden
}

func IsNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

// IsPermanent reports refusals that will not succeed on retry.
func IsPermanent(err error) bool {
	code := statusCode(err)
	return code == http.StatusForbidden || code == http.StatusNotFound || code == http.StatusBadRequest
}

// IsTransient reports rate limits, server errors and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	code := statusCode(err)
	if code == http.StatusTooManyRequests || code >= 500 {
		return true
	}
	if errors.Is(err, discordgo.ErrJSONUnmarshal) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
