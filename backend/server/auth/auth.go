package auth

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/maxelsson/habitkeep/backend/models"
	storage "github.com/maxelsson/habitkeep/backend/storage/persistent"
	"github.com/maxelsson/habitkeep/lib/utils"
	"golang.org/x/crypto/bcrypt"
)

// store holds the interface to the storage system shared with the rest of the backend.
var store storage.StorageInterface

// jwtSigningKey holds the key used for signing and verifying JWT tokens.
var jwtSigningKey string

// InitAuth initializes the authentication system with the shared storage
// backend and the JWT signing key. Must be called before any other function
// in this package.
func InitAuth(s storage.StorageInterface, signingKey string) {
	store = s
	jwtSigningKey = signingKey
}

// CreateAuthToken creates a signed JWT access token for a user.
// The token carries the user's id and a short expiry.
func CreateAuthToken(userId string) (string, error) {
	claims := jwt.MapClaims{
		"id":  userId,
		"exp": time.Now().Add(time.Minute * 15).Unix(),
	}

	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := newToken.SignedString([]byte(jwtSigningKey))

	if err != nil {
		return "", errors.New("failed to create auth token")
	}

	return signedToken, nil
}

// CreateRefreshToken creates an opaque refresh token for a user and persists
// it so that it can be revoked. The token is valid for thirty days.
func CreateRefreshToken(ctx context.Context, user *models.User) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.New("failed to create refresh token")
	}
	token := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)

	_, err := store.AddRefreshToken(ctx, &models.RefreshToken{
		UserID: user.ID,
		Token:  token,
		Expiry: time.Now().Add(30 * 24 * time.Hour),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return token, nil
}

// CreateTokens creates both an access token and a refresh token for a user.
func CreateTokens(ctx context.Context, user *models.User) (string, string, error) {
	authToken, err := CreateAuthToken(user.ID.Hex())
	if err != nil {
		return "", "", err
	}

	refreshToken, err := CreateRefreshToken(ctx, user)
	if err != nil {
		return "", "", err
	}

	return authToken, refreshToken, nil
}

// SignUpUser registers a new user: validates the input, hashes the password
// with bcrypt, persists the profile document, and returns the new user with
// a pair of tokens.
func SignUpUser(ctx context.Context, name, email, password, favouriteQuote string) (*models.User, string, string, error) {
	if len(name) < 2 {
		return nil, "", "", fmt.Errorf("name must be longer than 1 character: %w", models.ErrValidation)
	}
	if !utils.ValidateEmail(email) {
		return nil, "", "", fmt.Errorf("email is not valid: %w", models.ErrValidation)
	}
	if !utils.ValidatePassword(password) {
		return nil, "", "", fmt.Errorf("password must be at least 8 characters with letters and numbers: %w", models.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", "", errors.New("failed to hash password")
	}

	now := time.Now()
	user := &models.User{
		Name:           name,
		Email:          email,
		PasswordHash:   string(hash),
		FavouriteQuote: favouriteQuote,
		DateCreated:    now,
		DateEdited:     now,
	}

	user, err = store.AddUser(ctx, user)
	if err != nil {
		return nil, "", "", err
	}

	authToken, refreshToken, err := CreateTokens(ctx, user)
	if err != nil {
		return nil, "", "", err
	}
	return user, authToken, refreshToken, nil
}

// SignInUser verifies a user's credentials and, on success, returns the user
// together with a fresh pair of tokens. A wrong email and a wrong password
// produce the same error so the response doesn't leak which one it was.
func SignInUser(ctx context.Context, email, password string) (*models.User, string, string, error) {
	user, err := store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, "", "", errors.New("invalid email or password")
		}
		return nil, "", "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", "", errors.New("invalid email or password")
	}

	authToken, refreshToken, err := CreateTokens(ctx, user)
	if err != nil {
		return nil, "", "", err
	}
	return user, authToken, refreshToken, nil
}

// RefreshTokens exchanges a valid refresh token for a new token pair. The old
// refresh token, and any siblings, are revoked in the process.
func RefreshTokens(ctx context.Context, refreshToken string) (string, string, error) {
	stored, err := store.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", "", errors.New("invalid refresh token")
		}
		return "", "", err
	}

	if time.Now().After(stored.Expiry) {
		store.DeleteRefreshTokens(ctx, stored.UserID)
		return "", "", errors.New("refresh token expired")
	}

	user, err := store.FindUser(ctx, stored.UserID)
	if err != nil {
		return "", "", err
	}

	if _, err := store.DeleteRefreshTokens(ctx, stored.UserID); err != nil {
		return "", "", err
	}

	return CreateTokens(ctx, user)
}

// SignOutUser revokes all refresh tokens belonging to the user.
func SignOutUser(ctx context.Context, user *models.User) error {
	_, err := store.DeleteRefreshTokens(ctx, user.ID)
	return err
}

// VerifyToken parses and validates a JWT access token and returns the user id
// claim it carries.
func VerifyToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSigningKey), nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}

	id, ok := claims["id"].(string)
	if !ok {
		return "", errors.New("token has no user id claim")
	}
	return id, nil
}
