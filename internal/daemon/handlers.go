package daemon

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// Handle dispatches one message-channel request. Every request gets exactly
// one response: Body on success, Error otherwise.
// Mutations answer with the resulting profile list.
func (c *Coordinator) Handle(ctx context.Context, req domain.Request) domain.Response {
	body, err := c.handle(ctx, req)
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("action", string(req.Action)),
			zap.Error(err))
		return domain.ErrorResponse(err)
	}
	return domain.Response{Body: body}
}

func (c *Coordinator) handle(ctx context.Context, req domain.Request) (any, error) {
	switch req.Action {
	case domain.ActionGetProfiles:
		return c.GetProfiles(ctx)

	case domain.ActionAddProfile:
		var p domain.Profile
		if err := decodeBody(req, &p); err != nil {
			return nil, err
		}
		return c.mutateThenList(ctx, func(ctx context.Context) error { return c.addProfile(ctx, &p) })

	case domain.ActionUpdateProfile:
		var b domain.UpdateProfileBody
		if err := decodeBody(req, &b); err != nil {
			return nil, err
		}
		return c.mutateThenList(ctx, func(ctx context.Context) error { return c.updateProfile(ctx, b) })

	case domain.ActionRemoveProfile:
		var name string
		if err := decodeBody(req, &name); err != nil {
			return nil, err
		}
		return c.mutateThenList(ctx, func(ctx context.Context) error { return c.removeProfile(ctx, name) })

	case domain.ActionUpdateProfileName:
		var b domain.UpdateProfileNameBody
		if err := decodeBody(req, &b); err != nil {
			return nil, err
		}
		return c.mutateThenList(ctx, func(ctx context.Context) error {
			return c.updateProfileName(ctx, b.PrevName, b.NewName)
		})

	case domain.ActionUpdateScheduleEvents:
		var b domain.UpdateScheduleEventsBody
		if err := decodeBody(req, &b); err != nil {
			return nil, err
		}
		return c.mutateThenList(ctx, func(ctx context.Context) error {
			return c.updateScheduleEvents(ctx, b.ProfileName, b.Events)
		})

	case domain.ActionUpdateProfileOrder:
		var names []string
		if err := decodeBody(req, &names); err != nil {
			return nil, err
		}
		return c.mutateThenList(ctx, func(ctx context.Context) error { return c.updateProfileOrder(ctx, names) })

	case domain.ActionGetActiveProfiles:
		return c.GetActiveProfiles(ctx)

	case domain.ActionCheckURL:
		var url string
		if err := decodeBody(req, &url); err != nil {
			return nil, err
		}
		return c.CheckURL(ctx, url)

	case domain.ActionTabUpdated:
		var b domain.TabUpdatedBody
		if err := decodeBody(req, &b); err != nil {
			return nil, err
		}
		redirected, err := c.OnNavigation(ctx, b.TabID, b.URL)
		if err != nil {
			return nil, err
		}
		return domain.TabUpdatedResult{Redirected: redirected}, nil
	}

	return nil, fmt.Errorf("unknown action %q", req.Action)
}

func decodeBody(req domain.Request, v any) error {
	if len(req.Body) == 0 {
		return domain.Invalid("body", "%s requires a body", req.Action)
	}
	if err := json.Unmarshal(req.Body, v); err != nil {
		return domain.Invalid("body", "malformed %s body: %v", req.Action, err)
	}
	return nil
}
