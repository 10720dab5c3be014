/*
Package provision materialises the conversations a user should belong to and runs the
approval workflow for direct chats that a rule gates behind an approver.

Every mutation is idempotent under retry: group rooms and direct rooms are found-or-created
through the unique constraints of the Room Registry, memberships are upserts, and a second
approval request for the same pair returns the pending one.
*/
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trainchat/internal/app/chat"
	"trainchat/internal/app/notify"
	"trainchat/internal/app/permission"
	"trainchat/internal/app/rooms"
	"trainchat/internal/app/store"
	"trainchat/internal/app/user"
	"trainchat/internal/pkg/logx"
)

var (
	// ErrApprovalNotRequired is returned by RequestChatPermission when the pair may chat
	// immediately.
	ErrApprovalNotRequired = errors.New("provision: approval not required")

	// ErrNotApprover is returned when a user outside the approver role acts on requests.
	ErrNotApprover = errors.New("provision: user may not resolve chat requests")

	// ErrRequestResolved is returned when resolving a request that is no longer pending.
	ErrRequestResolved = errors.New("provision: chat request already resolved")
)

type Provisioner struct {
	directory user.Directory
	registry  *rooms.Registry
	engine    *permission.Engine
	requests  store.Requests
	notifier  notify.Dispatcher
	approver  user.Role
	now       func() time.Time
	logger    zerolog.Logger
}

// Deps groups the collaborators of a Provisioner.
type Deps struct {
	Directory    user.Directory
	Registry     *rooms.Registry
	Engine       *permission.Engine
	Requests     store.Requests
	Notifier     notify.Dispatcher
	ApproverRole user.Role
}

func New(d Deps) *Provisioner {
	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Provisioner{
		directory: d.Directory,
		registry:  d.Registry,
		engine:    d.Engine,
		requests:  d.Requests,
		notifier:  notifier,
		approver:  d.ApproverRole,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logx.Component("Provisioner"),
	}
}

// IsApprover reports whether u may resolve chat requests.
func (p *Provisioner) IsApprover(u user.User) bool {
	return u.Role == p.approver
}

// SetupUserChats enrols u in every group it qualifies for and creates the direct rooms of
// its auto-provisioned role pairs. Rooms that fail are reported together; the others are kept.
func (p *Provisioner) SetupUserChats(ctx context.Context, u user.User) error {
	var errs []error

	for _, def := range p.engine.Groups() {
		if !p.engine.CanJoinGroup(u, def) {
			continue
		}
		if err := p.joinGroup(ctx, u, def); err != nil {
			errs = append(errs, fmt.Errorf("join %s: %w", def.Category, err))
		}
	}

	for _, role := range p.engine.AutoProvisionedRoles(u.Role) {
		counterparts, err := p.directory.ListUsersByRole(ctx, role)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s: %w", role, err))
			continue
		}
		for _, other := range counterparts {
			if other.ID == u.ID || !p.engine.CanDirectChat(u, other).Immediate() {
				continue
			}
			if _, _, err := p.registry.FindOrCreateDirectRoom(ctx, u.ID, other.ID, chat.CategoryAutoDirect, u.ID); err != nil {
				errs = append(errs, fmt.Errorf("direct room with %s: %w", other.ID, err))
			}
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		p.logger.Warn().Err(err).Str("user_id", u.ID).Msg("Chat setup finished with errors.")
	} else {
		p.logger.Info().Str("user_id", u.ID).Stringer("role", u.Role).Msg("Chat setup complete.")
	}
	return err
}

func (p *Provisioner) joinGroup(ctx context.Context, u user.User, def permission.GroupDefinition) error {
	room, created, err := p.registry.FindOrCreateGroupRoom(ctx, rooms.GroupParams{
		Name:       def.Name,
		Category:   def.Category,
		IsReadOnly: def.IsReadOnly,
		CreatedBy:  u.ID,
	}, u.ID)
	if err != nil {
		return err
	}
	if created {
		return nil
	}
	return p.registry.AddParticipant(ctx, room.ID, u.ID)
}

// RequestChatPermission records a pending approval request for a pair whose rule requires
// approval, and alerts every user holding the approver role. A pending request for the same
// pair is returned as is.
func (p *Provisioner) RequestChatPermission(ctx context.Context, requester, target user.User, reason string) (*chat.Request, error) {
	d := p.engine.CanDirectChat(requester, target)
	if !d.Allowed {
		return nil, &permission.DeniedError{Reason: d.Reason}
	}
	if !d.RequiresApproval {
		return nil, ErrApprovalNotRequired
	}

	existing, err := p.requests.FindPendingRequest(ctx, requester.ID, target.ID)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	req, err := p.requests.InsertRequest(ctx, chat.Request{
		RequesterID:  requester.ID,
		TargetUserID: target.ID,
		Reason:       reason,
		Status:       chat.RequestPending,
	})
	if errors.Is(err, store.ErrConflict) {
		existing, err = p.requests.FindPendingRequest(ctx, requester.ID, target.ID)
		if err != nil {
			return nil, err
		}
		return &existing, nil
	}
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("request_id", req.ID).
		Str("requester_id", requester.ID).
		Str("target_id", target.ID).
		Msg("Chat request created.")

	p.notifyApprovers(ctx, requester, target, req)
	return &req, nil
}

func (p *Provisioner) notifyApprovers(ctx context.Context, requester, target user.User, req chat.Request) {
	approvers, err := p.directory.ListUsersByRole(ctx, p.approver)
	if err != nil {
		p.logger.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to list approvers.")
		return
	}

	ids := make([]string, 0, len(approvers))
	for _, a := range approvers {
		ids = append(ids, a.ID)
	}
	if len(ids) == 0 {
		p.logger.Warn().Stringer("approver_role", p.approver).Msg("No approver to notify.")
		return
	}

	err = p.notifier.Notify(ctx, ids, notify.Notification{
		Kind:      notify.KindChatRequest,
		RequestID: req.ID,
		Title:     "Chat request",
		Summary:   fmt.Sprintf("%s asks to chat with %s", requester.DisplayName, target.DisplayName),
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to notify approvers.")
	}
}

// CreateAutoDirectChat returns the direct room between a and b, creating it if needed. When
// the pair may not chat immediately it returns a nil room, the decision explaining why, and
// touches nothing.
func (p *Provisioner) CreateAutoDirectChat(ctx context.Context, a, b user.User) (*chat.Room, permission.Decision, error) {
	d := p.engine.CanDirectChat(a, b)
	if !d.Immediate() {
		return nil, d, nil
	}

	room, _, err := p.registry.FindOrCreateDirectRoom(ctx, a.ID, b.ID, chat.CategoryAutoDirect, a.ID)
	if err != nil {
		return nil, d, err
	}
	return room, d, nil
}

// ResolveChatRequest approves or denies a pending request. Approval creates the direct room
// (or reuses an existing one) and records it on the request; both outcomes notify the requester.
func (p *Provisioner) ResolveChatRequest(ctx context.Context, approver user.User, requestID string, approve bool) (*chat.Request, error) {
	if !p.IsApprover(approver) {
		return nil, ErrNotApprover
	}

	req, err := p.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, ErrRequestResolved
	}

	resolvedAt := p.now()
	update := chat.Request{ID: req.ID, Status: chat.RequestDenied, ResolvedBy: approver.ID, ResolvedAt: &resolvedAt}

	if approve {
		room, err := p.openApprovedRoom(ctx, req, approver)
		if err != nil {
			return nil, err
		}
		update.Status = chat.RequestApproved
		update.RoomID = room.ID
	}

	resolved, err := p.requests.ResolveRequest(ctx, update)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrRequestResolved
	}
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("request_id", resolved.ID).
		Stringer("status", resolved.Status).
		Str("resolved_by", approver.ID).
		Msg("Chat request resolved.")

	p.notifyResolution(ctx, resolved)
	return &resolved, nil
}

func (p *Provisioner) openApprovedRoom(ctx context.Context, req chat.Request, approver user.User) (*chat.Room, error) {
	requester, err := p.directory.GetUser(ctx, req.RequesterID)
	if err != nil {
		return nil, err
	}
	target, err := p.directory.GetUser(ctx, req.TargetUserID)
	if err != nil {
		return nil, err
	}
	if d := p.engine.CanDirectChat(requester, target); !d.Allowed {
		return nil, &permission.DeniedError{Reason: d.Reason}
	}

	room, _, err := p.registry.FindOrCreateDirectRoom(ctx, requester.ID, target.ID, chat.CategoryApprovedDirect, approver.ID)
	return room, err
}

func (p *Provisioner) notifyResolution(ctx context.Context, req chat.Request) {
	recipients := []string{req.RequesterID}
	summary := "Your chat request was denied"
	if req.Status == chat.RequestApproved {
		recipients = append(recipients, req.TargetUserID)
		summary = "Your chat request was approved"
	}

	err := p.notifier.Notify(ctx, recipients, notify.Notification{
		Kind:      notify.KindChatRequest,
		RequestID: req.ID,
		RoomID:    req.RoomID,
		Title:     "Chat request " + req.Status.String(),
		Summary:   summary,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to notify request resolution.")
	}
}

// PendingRequests lists the approval queue. Only approvers may read it.
func (p *Provisioner) PendingRequests(ctx context.Context, viewer user.User) ([]chat.Request, error) {
	if !p.IsApprover(viewer) {
		return nil, ErrNotApprover
	}
	return p.requests.ListPendingRequests(ctx)
}
