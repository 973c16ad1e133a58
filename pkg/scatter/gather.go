package scatter

import (
	"net/http"

	"sgrouter/pkg/types"
)

// Gather merges the sub-responses of a plan into one response holding exactly
// the keys of the original request.
func Gather(keys []types.Key, plan *Plan, responses []SubResponse) *Response {
	merged := &Response{Results: make(map[types.Key]*KeyResult, len(keys))}

	for k, unmapped := range plan.Unresolved {
		merged.Results[k] = &KeyResult{
			Status: http.StatusServiceUnavailable,
			Err: &KeyError{
				Kind:    UnresolvedKey,
				Status:  http.StatusServiceUnavailable,
				Message: unmapped.Error(),
				Cause:   unmapped,
			},
		}
	}

	for _, sr := range responses {
		if sr.Sub == nil {
			continue
		}
		if sr.Err != nil || sr.Result == nil {
			cause := sr.Err
			if cause == nil {
				cause = errEmptyResponse
			}
			status := statusOf(cause)
			for _, k := range sr.Sub.Keys {
				merged.Results[k] = &KeyResult{
					Status: status,
					Err: &KeyError{
						Kind:   SubRequestFailure,
						Status: status,
						Host:   sr.Sub.Host,
						Cause:  cause,
					},
				}
			}
			continue
		}

		// only the keys this host was asked for; anything else it returned is dropped
		for _, k := range sr.Sub.Keys {
			res, ok := sr.Result.Results[k]
			if !ok || res == nil {
				merged.Results[k] = &KeyResult{
					Status: http.StatusInternalServerError,
					Err: &KeyError{
						Kind:    PerKeyRemoteError,
						Status:  http.StatusInternalServerError,
						Host:    sr.Sub.Host,
						Message: "no result returned for key",
					},
				}
				continue
			}
			if res.Err != nil && res.Err.Host == "" {
				res.Err.Host = sr.Sub.Host
			}
			merged.Results[k] = res
		}
	}

	// keys the plan never covered still get an outcome
	for _, k := range keys {
		if _, ok := merged.Results[k]; !ok {
			merged.Results[k] = &KeyResult{
				Status: http.StatusInternalServerError,
				Err: &KeyError{
					Kind:    SubRequestFailure,
					Status:  http.StatusInternalServerError,
					Message: "key was not dispatched",
				},
			}
		}
	}
	return merged
}
