package api

import (
	"fmt"
	"net/http"
)

// CheckHealth reports whether every supervised VPN client was enforced without errors.
// GET /api/v1/health
func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthCheckResponse{
		Healthy: true,
		Version: h.version,
		Checks:  make(map[string]CheckResult),
	}

	if h.supervisor == nil {
		response.Checks["supervisor"] = CheckResult{
			Passed:  true,
			Message: "No VPN clients are supervised",
		}
		writeJSONData(w, response)
		return
	}

	for _, st := range h.supervisor.Status() {
		key := "vpn_client:" + st.Profile
		switch {
		case st.LastError != "":
			response.Healthy = false
			response.Checks[key] = CheckResult{
				Passed:  false,
				Message: "Enforcement failed: " + st.LastError,
			}
		case st.State.LinkUp && !st.Enforced:
			response.Healthy = false
			response.Checks[key] = CheckResult{
				Passed:  false,
				Message: fmt.Sprintf("Link of %s is up but the client is not enforced", st.Interface),
			}
		case st.State.LinkUp:
			response.Checks[key] = CheckResult{
				Passed:  true,
				Message: fmt.Sprintf("Enforced on %s", st.Interface),
			}
		default:
			response.Checks[key] = CheckResult{
				Passed:  true,
				Message: fmt.Sprintf("Link of %s is down", st.Interface),
			}
		}
	}

	writeJSONData(w, response)
}
