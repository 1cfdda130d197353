package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mary1sa/chess-arena/handlers"
	"github.com/mary1sa/chess-arena/middleware"
)

// SetupRoutes монтирует API движка расписания. Чтение публичное,
// изменения — только с операторским JWT.
func SetupRoutes(
	router *chi.Mux,
	jwtSecret string,
	authHandler *handlers.AuthHandler,
	roundHandler *handlers.RoundHandler,
	matchHandler *handlers.MatchHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authenticate := middleware.Authenticate(jwtSecret)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.Post("/auth/login", authHandler.LoginHandler)

	router.Route("/events/{eventID}", func(r chi.Router) {
		r.Get("/rounds", roundHandler.ListByEventHandler)
		r.Get("/schedule", roundHandler.ScheduleHandler)
		r.Get("/ws", webSocketHandler.SubscribeHandler)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Post("/rounds", roundHandler.CreateHandler)
		})
	})

	router.Route("/rounds/{roundID}", func(r chi.Router) {
		r.Get("/", roundHandler.GetByIDHandler)
		r.Get("/matches", matchHandler.ListByRoundHandler)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Put("/", roundHandler.UpdateHandler)
			r.Delete("/", roundHandler.DeleteHandler)
			r.Post("/start", roundHandler.StartHandler)
			r.Post("/complete", roundHandler.CompleteHandler)
			r.Post("/matches", matchHandler.CreateHandler)
		})
	})

	router.Route("/matches/{matchID}", func(r chi.Router) {
		r.Get("/", matchHandler.GetByIDHandler)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Put("/", matchHandler.UpdateHandler)
			r.Delete("/", matchHandler.DeleteHandler)
			r.Post("/start", matchHandler.StartHandler)
			r.Post("/cancel", matchHandler.CancelHandler)
			r.Post("/record-result", matchHandler.RecordResultHandler)
		})
	})
}
