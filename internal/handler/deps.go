package handler

import (
	"net/http"

	"trainchat/internal/app/apperr"
	"trainchat/internal/app/msgsync"
	"trainchat/internal/app/notify"
	"trainchat/internal/app/permission"
	"trainchat/internal/app/provision"
	"trainchat/internal/app/rooms"
	"trainchat/internal/app/session"
	"trainchat/internal/app/storage"
	"trainchat/internal/app/store"
	"trainchat/internal/app/user"
	"trainchat/internal/configs"
	"trainchat/internal/pkg/auth/jwt"
	"trainchat/internal/pkg/errs"
)

// AppDeps groups everything the handlers are built from.
type AppDeps struct {
	Config      *configs.AppConfig
	Store       store.Store
	Registry    *rooms.Registry
	Provisioner *provision.Provisioner
	Rules       *permission.Engine
	Notifier    notify.Dispatcher
	Sessions    *session.Manager

	// Attachments is nil when no object storage is configured.
	Attachments *storage.Attachments
}

// currentUser resolves the authenticated caller through the directory. A valid token for a
// user the directory does not know is rejected with ErrUserNotFound.
func currentUser(deps *AppDeps, r *http.Request) (user.User, *errs.CustomError) {
	payload := jwt.GetPayloadFromContext(r)
	if payload == nil || payload.UserID() == "" {
		return user.User{}, errs.NewError(errs.ErrUnauthorized)
	}

	u, err := deps.Store.GetUser(r.Context(), payload.UserID())
	if err != nil {
		return user.User{}, apperr.FromLookup(err, errs.ErrUserNotFound)
	}
	return u, nil
}

// newEngine returns a short-lived message engine for a single request. Callers Close it.
func newEngine(deps *AppDeps, u user.User) *msgsync.Engine {
	return msgsync.New(u, deps.Store, deps.Rules, deps.Notifier)
}
