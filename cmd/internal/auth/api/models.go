package api

import (
	"time"

	"splitbill/cmd/identity"
	"splitbill/cmd/internal/auth/session"
)

type guestRequest struct {
	ReturnRefreshToken bool `json:"return_refresh_token"`
}

type registerRequest struct {
	Email              string  `json:"email"`
	Password           string  `json:"password"`
	DisplayName        *string `json:"display_name"`
	ReturnRefreshToken bool    `json:"return_refresh_token"`
}

type loginRequest struct {
	Email              string `json:"email"`
	Password           string `json:"password"`
	ReturnRefreshToken bool   `json:"return_refresh_token"`
}

type refreshRequest struct {
	RefreshToken       string `json:"refresh_token"`
	ReturnRefreshToken bool   `json:"return_refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type accountResponse struct {
	ID          string    `json:"id"`
	IsGuest     bool      `json:"is_guest"`
	Email       *string   `json:"email"`
	DisplayName *string   `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type sessionResponse struct {
	AccountID        string    `json:"account_id"`
	IsGuest          bool      `json:"is_guest"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type meResponse struct {
	Account accountResponse `json:"account"`
}

func toAccountResponse(a identity.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		IsGuest:     a.IsGuest,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		CreatedAt:   a.CreatedAt,
	}
}

// toSessionResponse omits the refresh token unless the client asked for it in the body.
func toSessionResponse(issued session.Issued, includeRefresh bool) sessionResponse {
	out := sessionResponse{
		AccountID:        issued.AccountID,
		IsGuest:          issued.IsGuest,
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		RefreshExpiresAt: issued.RefreshExp,
	}
	if includeRefresh {
		out.RefreshToken = issued.RefreshToken
	}
	return out
}
