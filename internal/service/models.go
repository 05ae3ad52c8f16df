package service

import (
	"strconv"

	"github.com/smallbiznis/valora-session/internal/domain"
)

// UserViewModel represents the user profile returned to clients.
type UserViewModel struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func newUserViewModel(user domain.User) UserViewModel {
	return UserViewModel{UserID: strconv.FormatInt(user.ID, 10), Username: user.Username}
}
