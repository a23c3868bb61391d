// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
)

// DefaultTabTimeout bounds every tab provider call.
const DefaultTabTimeout = 3 * time.Second

// TabGuardConfig holds tab guard configuration.
type TabGuardConfig struct {
	ExtensionOrigin string        // e.g. chrome-extension://<id>; the block page lives under it
	CallTimeout     time.Duration // per tab provider call
}

// TabGuard keeps open tabs consistent with the blocking decision.
// It redirects blocked tabs to the block page and restores them once
// their original URL is no longer blocked.
// Not safe for concurrent use; the coordinator loop owns it.
type TabGuard struct {
	config  TabGuardConfig
	tabs    domain.TabProvider
	matcher *policy.Matcher
	blocked map[int]string // tab id -> original url
	logger  *zap.Logger
}

// NewTabGuard creates a tab guard.
func NewTabGuard(config TabGuardConfig, tabs domain.TabProvider, matcher *policy.Matcher, logger *zap.Logger) *TabGuard {
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultTabTimeout
	}
	config.ExtensionOrigin = strings.TrimRight(config.ExtensionOrigin, "/")
	return &TabGuard{
		config:  config,
		tabs:    tabs,
		matcher: matcher,
		blocked: make(map[int]string),
		logger:  logger,
	}
}

// BlockPageURL returns the block page address carrying original as its url parameter.
func (g *TabGuard) BlockPageURL(original string) string {
	return g.config.ExtensionOrigin + "/block?url=" + encodeURIComponent(original)
}

// IsBlockPage reports whether u belongs to the extension's own origin.
func (g *TabGuard) IsBlockPage(u string) bool {
	return g.config.ExtensionOrigin != "" && strings.HasPrefix(u, g.config.ExtensionOrigin)
}

// encodeURIComponent percent-encodes s; spaces become %20, not '+'.
func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Blocked returns a copy of the redirected-tab record.
func (g *TabGuard) Blocked() map[int]string {
	out := make(map[int]string, len(g.blocked))
	for id, u := range g.blocked {
		out[id] = u
	}
	return out
}

// OnNavigation redirects tabID to the block page if u is blocked.
// Leaving the block page for an unblocked URL drops the tab's record.
// Returns whether the tab was redirected.
func (g *TabGuard) OnNavigation(ctx context.Context, tabID int, u string, set *policy.ActiveSet) (bool, error) {
	if !g.matcher.IsBlocked(u, set) {
		if !g.IsBlockPage(u) {
			delete(g.blocked, tabID)
		}
		return false, nil
	}
	if err := g.redirect(ctx, tabID, u); err != nil {
		return false, err
	}
	g.logger.Info("blocked tab",
		zap.Int("tab_id", tabID),
		zap.String("url", u))
	return true, nil
}

// redirect records the tab and sends it to the block page.
// The record is dropped again if the redirect fails.
func (g *TabGuard) redirect(ctx context.Context, tabID int, original string) error {
	g.blocked[tabID] = original

	callCtx, cancel := context.WithTimeout(ctx, g.config.CallTimeout)
	defer cancel()
	if err := g.tabs.UpdateTabURL(callCtx, tabID, g.BlockPageURL(original)); err != nil {
		delete(g.blocked, tabID)
		return fmt.Errorf("failed to redirect tab %d: %w", tabID, err)
	}
	return nil
}

// ReconcileAll blocks every open tab that should be blocked and restores
// recorded tabs whose original URL is no longer blocked.
// Tab provider failures are collected per tab; the pass always completes.
func (g *TabGuard) ReconcileAll(ctx context.Context, set *policy.ActiveSet) *domain.ReconcileResult {
	start := time.Now()
	result := &domain.ReconcileResult{
		RedirectedTabs: make([]int, 0),
		RestoredTabs:   make([]int, 0),
		DroppedTabs:    make([]int, 0),
		Errors:         make([]error, 0),
		ExecutedAt:     start,
	}

	g.blockOpenTabs(ctx, set, result)
	g.restoreTabs(ctx, set, result)

	result.DurationMs = time.Since(start).Milliseconds()
	if len(result.RedirectedTabs) > 0 || len(result.RestoredTabs) > 0 || len(result.Errors) > 0 {
		g.logger.Info("tabs reconciled",
			zap.Int("redirected", len(result.RedirectedTabs)),
			zap.Int("restored", len(result.RestoredTabs)),
			zap.Int("dropped", len(result.DroppedTabs)),
			zap.Int("errors", len(result.Errors)))
	}
	return result
}

func (g *TabGuard) blockOpenTabs(ctx context.Context, set *policy.ActiveSet, result *domain.ReconcileResult) {
	if set.IsEmpty() {
		return
	}

	listCtx, cancel := context.WithTimeout(ctx, g.config.CallTimeout)
	tabs, err := g.tabs.ListOpenTabs(listCtx)
	cancel()
	if err != nil {
		g.logger.Warn("failed to list open tabs", zap.Error(err))
		result.Errors = append(result.Errors, fmt.Errorf("failed to list open tabs: %w", err))
		return
	}

	for _, tab := range tabs {
		// A record only means something while the tab still shows the block page.
		if _, recorded := g.blocked[tab.ID]; recorded && g.IsBlockPage(tab.URL) {
			continue
		}
		if !g.matcher.IsBlocked(tab.URL, set) {
			continue
		}
		if err := g.redirect(ctx, tab.ID, tab.URL); err != nil {
			g.logger.Warn("failed to block tab", zap.Int("tab_id", tab.ID), zap.Error(err))
			result.Errors = append(result.Errors, err)
			continue
		}
		result.RedirectedTabs = append(result.RedirectedTabs, tab.ID)
	}
}

func (g *TabGuard) restoreTabs(ctx context.Context, set *policy.ActiveSet, result *domain.ReconcileResult) {
	ids := make([]int, 0, len(g.blocked))
	for id := range g.blocked {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		original := g.blocked[id]
		if g.matcher.IsBlocked(original, set) {
			continue
		}
		// Whatever happens below, the record is done with.
		delete(g.blocked, id)

		getCtx, cancel := context.WithTimeout(ctx, g.config.CallTimeout)
		tab, err := g.tabs.GetTab(getCtx, id)
		cancel()
		if err != nil {
			// Tab closed; nothing to restore.
			g.logger.Debug("blocked tab gone", zap.Int("tab_id", id), zap.Error(err))
			result.DroppedTabs = append(result.DroppedTabs, id)
			continue
		}
		if !g.IsBlockPage(tab.URL) {
			// User already navigated away from the block page.
			result.DroppedTabs = append(result.DroppedTabs, id)
			continue
		}

		updateCtx, cancel := context.WithTimeout(ctx, g.config.CallTimeout)
		err = g.tabs.UpdateTabURL(updateCtx, id, original)
		cancel()
		if err != nil {
			g.logger.Warn("failed to restore tab", zap.Int("tab_id", id), zap.Error(err))
			result.Errors = append(result.Errors, fmt.Errorf("failed to restore tab %d: %w", id, err))
			result.DroppedTabs = append(result.DroppedTabs, id)
			continue
		}
		g.logger.Info("restored tab", zap.Int("tab_id", id), zap.String("url", original))
		result.RestoredTabs = append(result.RestoredTabs, id)
	}
}
