package controller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/idlocator/internal/cdp"
	"github.com/dgnsrekt/idlocator/internal/cdpcontrol"
	"github.com/dgnsrekt/idlocator/internal/locator"
	"github.com/dgnsrekt/idlocator/internal/settings"
	"github.com/dgnsrekt/idlocator/internal/tabstate"
)

// Tabs lists the page tabs reachable over CDP.
type Tabs interface {
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
	Tab(ctx context.Context, tabID string) (cdpcontrol.TabInfo, error)
}

// Sessions is the tab state the control API drives.
type Sessions interface {
	Toggle(ctx context.Context, tabID string) (tabstate.Session, bool, error)
	Cancel(ctx context.Context, tabID string) error
	Click(ctx context.Context, tabID string, regionID int) error
	Hover(ctx context.Context, tabID string, regionID int, enter bool) error
	FocusChanged(tabID string) tabstate.Indicator
	Session(tabID string) (tabstate.Session, bool)
	OverlayState(tabID string) locator.State
}

// SettingsStore reads and replaces the persisted configuration.
type SettingsStore interface {
	Get() settings.Settings
	Update(next settings.Settings) (settings.Settings, error)
}

// Watched reports navigation bookkeeping for a tab. It may be nil.
type Watched interface {
	GetByStringID(tabID string) (cdp.TabRecord, bool)
}

// TabView is one tab as reported by the control API.
type TabView struct {
	cdpcontrol.TabInfo
	Enabled bool   `json:"enabled"`
	Loading bool   `json:"loading"`
	Overlay string `json:"overlay"`
	State   string `json:"state"`
	Loads   int    `json:"loads"`
}

// ToggleResult reports the session after a toggle request.
type ToggleResult struct {
	TabID   string `json:"tab_id"`
	Enabled bool   `json:"enabled"`
	Loading bool   `json:"loading"`
	Ignored bool   `json:"ignored"`
}

const pageEventTimeout = 10 * time.Second

// Service wraps the locator control operations.
type Service struct {
	tabs     Tabs
	sessions Sessions
	settings SettingsStore
	watched  Watched
}

func NewService(tabs Tabs, sessions Sessions, store SettingsStore, watched Watched) *Service {
	return &Service{tabs: tabs, sessions: sessions, settings: store, watched: watched}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func (s *Service) ListTabs(ctx context.Context) ([]TabView, error) {
	tabs, err := s.tabs.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TabView, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, s.view(t))
	}
	return out, nil
}

func (s *Service) GetTab(ctx context.Context, tabID string) (TabView, error) {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return TabView{}, err
	}
	info, err := s.tabs.Tab(ctx, strings.TrimSpace(tabID))
	if err != nil {
		return TabView{}, err
	}
	return s.view(info), nil
}

// Toggle flips the overlay for a tab. The tab must exist.
func (s *Service) Toggle(ctx context.Context, tabID string) (ToggleResult, error) {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return ToggleResult{}, err
	}
	tabID = strings.TrimSpace(tabID)
	if _, err := s.tabs.Tab(ctx, tabID); err != nil {
		return ToggleResult{}, err
	}
	sess, ignored, err := s.sessions.Toggle(ctx, tabID)
	if err != nil {
		return ToggleResult{}, mapSessionErr(err)
	}
	return ToggleResult{TabID: tabID, Enabled: sess.Enabled, Loading: sess.Loading, Ignored: ignored}, nil
}

func (s *Service) Cancel(ctx context.Context, tabID string) error {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return err
	}
	return mapSessionErr(s.sessions.Cancel(ctx, strings.TrimSpace(tabID)))
}

func (s *Service) Focus(ctx context.Context, tabID string) (tabstate.Indicator, error) {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return tabstate.Indicator{}, err
	}
	tabID = strings.TrimSpace(tabID)
	if _, err := s.tabs.Tab(ctx, tabID); err != nil {
		return tabstate.Indicator{}, err
	}
	return s.sessions.FocusChanged(tabID), nil
}

// HandlePageEvent routes an interaction reported by the page to the tab's
// session.
func (s *Service) HandlePageEvent(ev cdpcontrol.PageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), pageEventTimeout)
	defer cancel()

	var err error
	switch ev.Type {
	case cdpcontrol.EventClick:
		err = s.sessions.Click(ctx, ev.TabID, ev.Region)
	case cdpcontrol.EventHover:
		err = s.sessions.Hover(ctx, ev.TabID, ev.Region, true)
	case cdpcontrol.EventLeave:
		err = s.sessions.Hover(ctx, ev.TabID, ev.Region, false)
	case cdpcontrol.EventCancel:
		err = s.sessions.Cancel(ctx, ev.TabID)
	case cdpcontrol.EventFocus:
		s.sessions.FocusChanged(ev.TabID)
	default:
		slog.Debug("unknown page event", "tab_id", ev.TabID, "type", ev.Type)
		return
	}
	if err != nil {
		slog.Warn("page event failed", "tab_id", ev.TabID, "type", ev.Type, "region_id", ev.Region, "error", err)
	}
}

func (s *Service) GetSettings() settings.Settings {
	return s.settings.Get()
}

func (s *Service) UpdateSettings(next settings.Settings) (settings.Settings, error) {
	saved, err := s.settings.Update(next)
	if err != nil {
		if errors.Is(err, settings.ErrInvalid) {
			return settings.Settings{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: err.Error(), Cause: err}
		}
		return settings.Settings{}, err
	}
	return saved, nil
}

func (s *Service) view(info cdpcontrol.TabInfo) TabView {
	v := TabView{TabInfo: info, Overlay: s.sessions.OverlayState(info.TabID).String(), State: tabstate.IndicatorDisabled}
	if sess, ok := s.sessions.Session(info.TabID); ok {
		v.Enabled, v.Loading = sess.Enabled, sess.Loading
		switch {
		case sess.Loading:
			v.State = tabstate.IndicatorProcessing
		case sess.Enabled:
			v.State = tabstate.IndicatorEnabled
		}
	}
	if s.watched != nil {
		if rec, ok := s.watched.GetByStringID(info.TabID); ok {
			v.Loads = rec.Loads
			if rec.URL != "" {
				v.URL = rec.URL
			}
		}
	}
	return v
}

func mapSessionErr(err error) error {
	if errors.Is(err, tabstate.ErrClosed) {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeCDPUnavailable, Message: "service is shutting down", Cause: err}
	}
	return err
}
