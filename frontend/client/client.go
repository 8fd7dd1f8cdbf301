package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/maxelsson/habitkeep/backend/models"
	"github.com/zalando/go-keyring"
)

// KeyringKey is used to store and retrieve the JWT access token from the system keyring.
var KeyringKey string

// RefreshKeyringKey is used to store and retrieve the refresh token from the system keyring.
var RefreshKeyringKey string

// ServerURL is the URL of the server the client is connecting to.
var ServerURL string

// httpClient is the HTTP client used to make requests to the server.
var httpClient = &http.Client{Timeout: 15 * time.Second}

// KeyringService is the name of the service in the system keyring where the
// tokens are stored.
const KeyringService = "HabitKeep"

// ErrNotAuthenticated is returned when no usable token pair is available.
var ErrNotAuthenticated = errors.New("not signed in")

// tokenPair mirrors the token fields of the server's auth responses.
type tokenPair struct {
	User         *models.User `json:"user"`
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
}

// apiError mirrors the server's JSON error body.
type apiError struct {
	Error   string `json:"error"`
	Warning string `json:"warning"`
}

// InitClient initializes the keyring keys and server URL.
// This function must be called before using any other functions in the package.
func InitClient(serverURL, authToken, authTokenRefresh string) {
	ServerURL = serverURL
	KeyringKey = authToken
	RefreshKeyringKey = authTokenRefresh
}

// storeTokens saves a token pair in the system keyring.
func storeTokens(token, refreshToken string) error {
	if err := keyring.Set(KeyringService, KeyringKey, token); err != nil {
		return errors.New("failed to store access token in keyring: " + err.Error())
	}
	if err := keyring.Set(KeyringService, RefreshKeyringKey, refreshToken); err != nil {
		return errors.New("failed to store refresh token in keyring: " + err.Error())
	}
	return nil
}

// ClearKeyring clears the access token and refresh token from the system keyring.
func ClearKeyring() error {
	if err := keyring.Delete(KeyringService, KeyringKey); err != nil && err != keyring.ErrNotFound {
		return errors.New("failed to delete access token from keyring: " + err.Error())
	}
	if err := keyring.Delete(KeyringService, RefreshKeyringKey); err != nil && err != keyring.ErrNotFound {
		return errors.New("failed to delete refresh token from keyring: " + err.Error())
	}
	return nil
}

// IsSignedIn reports whether a token pair is present in the keyring.
func IsSignedIn() bool {
	_, err := keyring.Get(KeyringService, KeyringKey)
	return err == nil
}

// doJSON performs a request with an optional JSON body and decodes the JSON
// response into dest when dest is non-nil. A non-2xx response is returned as
// an error carrying the server's message.
func doJSON(method, path, token string, body interface{}, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.New("failed to encode request: " + err.Error())
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, ServerURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return errors.New("request failed: " + err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New("failed to read response: " + err.Error())
	}

	if resp.StatusCode == http.StatusUnauthorized {
		var msg apiError
		json.Unmarshal(raw, &msg)
		if msg.Error != "" {
			return fmt.Errorf("%w: %s", ErrNotAuthenticated, msg.Error)
		}
		return ErrNotAuthenticated
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg apiError
		if json.Unmarshal(raw, &msg) == nil && msg.Error != "" {
			return errors.New(msg.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if dest != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, dest); err != nil {
			return errors.New("failed to decode response: " + err.Error())
		}
	}
	return nil
}

// authedJSON performs an authenticated request, refreshing the token pair
// once when the access token has expired.
func authedJSON(method, path string, body interface{}, dest interface{}) error {
	token, err := keyring.Get(KeyringService, KeyringKey)
	if err != nil {
		if err == keyring.ErrNotFound {
			return ErrNotAuthenticated
		}
		return errors.New("failed to access keyring: " + err.Error())
	}

	err = doJSON(method, path, token, body, dest)
	if !errors.Is(err, ErrNotAuthenticated) {
		return err
	}

	// Access token rejected; try the refresh token once.
	refreshToken, err := keyring.Get(KeyringService, RefreshKeyringKey)
	if err != nil {
		return ErrNotAuthenticated
	}

	var refreshed tokenPair
	if err := doJSON(http.MethodPost, "/api/refresh", "", map[string]string{"refresh_token": refreshToken}, &refreshed); err != nil {
		ClearKeyring()
		return ErrNotAuthenticated
	}
	if err := storeTokens(refreshed.Token, refreshed.RefreshToken); err != nil {
		return err
	}

	return doJSON(method, path, refreshed.Token, body, dest)
}

// SignUp registers a new account and stores the returned tokens in the keyring.
func SignUp(name, email, password, favouriteQuote string) (*models.User, error) {
	var result tokenPair
	err := doJSON(http.MethodPost, "/api/signup", "", map[string]string{
		"name":            name,
		"email":           email,
		"password":        password,
		"favourite_quote": favouriteQuote,
	}, &result)
	if err != nil {
		return nil, err
	}
	if err := storeTokens(result.Token, result.RefreshToken); err != nil {
		return nil, err
	}
	return result.User, nil
}

// SignIn authenticates and stores the returned tokens in the keyring.
func SignIn(email, password string) (*models.User, error) {
	var result tokenPair
	err := doJSON(http.MethodPost, "/api/signin", "", map[string]string{
		"email":    email,
		"password": password,
	}, &result)
	if err != nil {
		return nil, err
	}
	if err := storeTokens(result.Token, result.RefreshToken); err != nil {
		return nil, err
	}
	return result.User, nil
}

// SignOut clears the stored tokens.
func SignOut() error {
	return ClearKeyring()
}

// Habits fetches every habit the signed-in user owns.
func Habits() ([]models.Habit, error) {
	var habits []models.Habit
	err := authedJSON(http.MethodGet, "/api/habits", nil, &habits)
	return habits, err
}

// DueHabits fetches the habits due today.
func DueHabits() ([]models.Habit, error) {
	var habits []models.Habit
	err := authedJSON(http.MethodGet, "/api/habits/due", nil, &habits)
	return habits, err
}

// PerformedHabits fetches the habits already completed today.
func PerformedHabits() ([]models.Habit, error) {
	var habits []models.Habit
	err := authedJSON(http.MethodGet, "/api/habits/performed", nil, &habits)
	return habits, err
}

// CreateHabit creates a new habit for the signed-in user.
func CreateHabit(h *models.Habit) (*models.Habit, error) {
	var created models.Habit
	if err := authedJSON(http.MethodPost, "/api/habits", h, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ToggleHabit marks a habit performed for today, or undoes today's mark.
// A non-empty warning means the habit was updated but the streak record was
// not; the server logs the inconsistency.
func ToggleHabit(id string) (*models.Habit, string, error) {
	var raw json.RawMessage
	if err := authedJSON(http.MethodPost, "/api/habits/"+id+"/toggle", nil, &raw); err != nil {
		return nil, "", err
	}

	// The success body is either the habit itself or, on a partial failure,
	// an envelope with the habit and a warning.
	var withWarning struct {
		Habit   *models.Habit `json:"habit"`
		Warning string        `json:"warning"`
	}
	if err := json.Unmarshal(raw, &withWarning); err == nil && withWarning.Habit != nil {
		return withWarning.Habit, withWarning.Warning, nil
	}

	var habit models.Habit
	if err := json.Unmarshal(raw, &habit); err != nil {
		return nil, "", errors.New("failed to decode response: " + err.Error())
	}
	return &habit, "", nil
}

// StreakCount fetches the current streak count for a habit.
func StreakCount(id string) (int, error) {
	var result struct {
		CurrentStreakCount int `json:"current_streak_count"`
	}
	if err := authedJSON(http.MethodGet, "/api/habits/"+id+"/streak", nil, &result); err != nil {
		return 0, err
	}
	return result.CurrentStreakCount, nil
}

// Calendar fetches the streak range view between two YYYY-MM-DD days.
func Calendar(from, to string) (map[string][]models.StreakInfo, error) {
	view := make(map[string][]models.StreakInfo)
	err := authedJSON(http.MethodGet, "/api/calendar?from="+from+"&to="+to, nil, &view)
	return view, err
}
