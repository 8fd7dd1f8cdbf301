package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/maxelsson/habitkeep/backend/habit"
	"github.com/maxelsson/habitkeep/backend/models"
	"github.com/maxelsson/habitkeep/backend/server/auth"
	contextKey "github.com/maxelsson/habitkeep/backend/server/context_key"
	"github.com/maxelsson/habitkeep/backend/streak"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// habits and streaks are the engine services the handlers dispatch to.
// They are set once by Start before the router is built.
var habits *habit.Service
var streaks *streak.Engine

// jwtMiddleware performs JWT validation on incoming requests.
//
// It reads the JWT from the Authorization header. If a valid token is
// present, the user's id from the claims is injected into the request's
// context under contextKey.UserIDKey; parse errors are injected under
// contextKey.JwtErrorKey. The middleware never stops the request itself;
// handlers that need authentication interpret the context and react.
func jwtMiddleware(signingKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			splitToken := strings.Split(authHeader, "Bearer ")
			if len(splitToken) == 2 {
				token, err := jwt.Parse(splitToken[1], func(token *jwt.Token) (interface{}, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
					}
					return []byte(signingKey), nil
				})
				if err != nil {
					log.Println("JWT token validation error:", err)
					ctx := context.WithValue(r.Context(), contextKey.JwtErrorKey, err)
					r = r.WithContext(ctx)
				} else if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
					ctx := context.WithValue(r.Context(), contextKey.UserIDKey, claims["id"])
					r = r.WithContext(ctx)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and provides a generic error message to the client.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("Panic recovered: %s\n", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// writeJSON renders v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}

// writeError maps an engine error onto an HTTP status and renders the
// message as a JSON body, the transport equivalent of the UI's toast.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrStore):
		status = http.StatusBadGateway
	case errors.Is(err, models.ErrEncoding):
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// requireUser extracts the authenticated user's id from the request context.
func requireUser(r *http.Request) (primitive.ObjectID, error) {
	raw, ok := r.Context().Value(contextKey.UserIDKey).(string)
	if !ok {
		if jwtErr, ok := r.Context().Value(contextKey.JwtErrorKey).(error); ok {
			return primitive.NilObjectID, fmt.Errorf("authentication failed: %v", jwtErr)
		}
		return primitive.NilObjectID, errors.New("authentication required")
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, errors.New("invalid user id in token")
	}
	return id, nil
}

// decodeBody decodes a JSON request body into dest.
func decodeBody(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("malformed request body: %w", models.ErrValidation)
	}
	return nil
}

type signUpRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	FavouriteQuote string `json:"favourite_quote"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	User         *models.User `json:"user,omitempty"`
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
}

func handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, token, refreshToken, err := auth.SignUpUser(r.Context(), req.Name, req.Email, req.Password, req.FavouriteQuote)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{User: user, Token: token, RefreshToken: refreshToken})
}

func handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, token, refreshToken, err := auth.SignInUser(r.Context(), req.Email, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{User: user, Token: token, RefreshToken: refreshToken})
}

func handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, refreshToken, err := auth.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, RefreshToken: refreshToken})
}

func handleListHabits(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	list, err := habits.All(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func handleDueHabits(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	list, err := habits.DueToday(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func handlePerformedHabits(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	list, err := habits.PerformedToday(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func handleCreateHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	var h models.Habit
	if err := decodeBody(r, &h); err != nil {
		writeError(w, err)
		return
	}
	h.UserID = userID
	created, err := habits.Add(r.Context(), &h)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// habitID extracts and parses the {id} route variable.
func habitID(r *http.Request) (primitive.ObjectID, error) {
	raw := mux.Vars(r)["id"]
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid habit id %q: %w", raw, models.ErrValidation)
	}
	return id, nil
}

func handleGetHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	id, err := habitID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := habits.Get(r.Context(), id, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func handleUpdateHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	id, err := habitID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	existing, err := habits.Get(r.Context(), id, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	var h models.Habit
	if err := decodeBody(r, &h); err != nil {
		writeError(w, err)
		return
	}
	// Only definition fields are editable over the API; schedule and streak
	// state belong to the toggle path.
	existing.Name = h.Name
	existing.Description = h.Description
	existing.Category = h.Category
	existing.Interval = h.Interval
	existing.Color = h.Color
	existing.SendNotification = h.SendNotification
	updated, err := habits.Update(r.Context(), existing, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func handleDeleteHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	id, err := habitID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := habits.Delete(r.Context(), id, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleToggleHabit(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	id, err := habitID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := habits.ToggleCompletion(r.Context(), id, userID)
	if err != nil {
		if h != nil {
			// The habit write landed but the streak write didn't; return the
			// updated habit together with the warning.
			writeJSON(w, http.StatusOK, map[string]interface{}{"habit": h, "warning": err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func handleStreakCount(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	id, err := habitID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	count, err := streaks.CurrentStreakCount(r.Context(), userID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"current_streak_count": count})
}

func handleCalendar(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, fmt.Errorf("invalid 'from' date: %w", models.ErrValidation))
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, fmt.Errorf("invalid 'to' date: %w", models.ErrValidation))
		return
	}

	view, err := streaks.RangeView(r.Context(), userID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Start initializes and starts the habit API server.
// The function requires a serverURL (where the server must listen), the JWT
// signing key, and the engine services the handlers dispatch to.
func Start(serverURL, signingKey string, habitService *habit.Service, streakEngine *streak.Engine) {
	habits = habitService
	streaks = streakEngine

	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/signup", handleSignUp).Methods(http.MethodPost)
	api.HandleFunc("/signin", handleSignIn).Methods(http.MethodPost)
	api.HandleFunc("/refresh", handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/habits", handleListHabits).Methods(http.MethodGet)
	api.HandleFunc("/habits", handleCreateHabit).Methods(http.MethodPost)
	api.HandleFunc("/habits/due", handleDueHabits).Methods(http.MethodGet)
	api.HandleFunc("/habits/performed", handlePerformedHabits).Methods(http.MethodGet)
	api.HandleFunc("/habits/{id}", handleGetHabit).Methods(http.MethodGet)
	api.HandleFunc("/habits/{id}", handleUpdateHabit).Methods(http.MethodPut)
	api.HandleFunc("/habits/{id}", handleDeleteHabit).Methods(http.MethodDelete)
	api.HandleFunc("/habits/{id}/toggle", handleToggleHabit).Methods(http.MethodPost)
	api.HandleFunc("/habits/{id}/streak", handleStreakCount).Methods(http.MethodGet)
	api.HandleFunc("/calendar", handleCalendar).Methods(http.MethodGet)

	// Apply the CORS middleware to the router
	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"})
	corsHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})

	corsRouter := handlers.CORS(corsOrigins, corsMethods, corsHeaders)(recoveryMiddleware(jwtMiddleware(signingKey, r)))

	// Apply the logging middleware
	loggingRouter := handlers.LoggingHandler(os.Stdout, corsRouter)

	u, err := url.Parse(serverURL)
	if err != nil {
		panic(err)
	}

	server := &http.Server{
		Handler:      loggingRouter,
		Addr:         u.Host,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	log.Fatal(server.ListenAndServe())
}
