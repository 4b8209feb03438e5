package privatehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"webup/borgmon"

	"fmt"

	"webup/borgmon/tasks"

	log "github.com/sirupsen/logrus"
)

type HTTPApi struct {
}

func NewAPI() borgmon.PrivateAPI {
	return &HTTPApi{}
}

func (api *HTTPApi) Listen(ctx context.Context) error {

	opts, ok := borgmon.SettingsFromContext(ctx)
	if !ok {
		return fmt.Errorf("unable to get settings from context")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/actions/sync", api.Sync(ctx))

	log.Infof("Private API listening on %v", opts.PrivateAPIListen)
	return http.ListenAndServe(opts.PrivateAPIListen, mux)
}

// Sync triggers the authoritative full replay of a job's event log. This
// endpoint binds to localhost only and carries no auth, like the rest of
// the private API.
func (api *HTTPApi) Sync(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		// get 'name' param
		name := r.URL.Query().Get("name")
		if name == "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, "'name' param is required")
			return
		}

		requestCtx := ctx
		if opts, ok := borgmon.SettingsFromContext(ctx); ok {
			requestCtx = borgmon.NewContextWithSettings(r.Context(), opts)
		}

		result, err := tasks.SyncJob(requestCtx, name)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintln(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}
