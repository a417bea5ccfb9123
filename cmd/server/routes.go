// Package main is the entry point of the application
package main

import (
	"net/http"

	"github.com/rs/cors"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", app.handleHealth)
	mux.HandleFunc("POST /matches", app.authenticate(app.handleCreateMatch))
	mux.HandleFunc("GET /matches/{id}", app.authenticate(app.handleGetMatch))
	mux.HandleFunc("GET /ws", app.authenticate(app.handleWebSocket))

	c := cors.New(cors.Options{
		AllowedOrigins: app.allowedOrigins(),
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
		},
		AllowedHeaders: []string{"Content-Type", "X-Api-Key", "X-Participant-Id"},
	})

	return c.Handler(mux)
}

func (app *application) allowedOrigins() []string {
	if len(app.Config.FrontendOrigins) == 0 {
		return []string{"*"}
	}

	return app.Config.FrontendOrigins
}
