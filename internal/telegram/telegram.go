package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"madridtracker/server/config"
	"madridtracker/server/internal/models"
)

const DefaultAPIBaseURL = "https://api.telegram.org"

// Store supplies the listing details and zone averages quoted in alerts.
type Store interface {
	ListingsByID(ctx context.Context, ids []string) (map[string]models.Listing, error)
	ZoneAvgPricePerSqm(ctx context.Context, distrito string) (float64, bool, error)
}

type Service struct {
	logger  *logrus.Logger
	client  *http.Client
	config  config.TelegramConfig
	store   Store
	baseURL string
}

func NewService(cfg config.TelegramConfig, store Store, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Service{
		logger: logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		config:  cfg,
		store:   store,
		baseURL: DefaultAPIBaseURL,
	}
}

// SetBaseURL points the service at another Bot API endpoint.
func (s *Service) SetBaseURL(url string) {
	s.baseURL = strings.TrimRight(url, "/")
}

// Enabled reports whether alerts are sent at all.
func (s *Service) Enabled() bool {
	return s.config.Enabled
}

// priceAnalysis compares the new price per sqm with the distrito average.
func (s *Service) priceAnalysis(ctx context.Context, l models.Listing, newPrice int) (string, string, error) {
	if l.SizeSqm == nil || *l.SizeSqm <= 0 {
		return "N/A", "Size unknown", nil
	}
	pricePerSqm := float64(newPrice) / *l.SizeSqm
	perSqm := fmt.Sprintf("€%.0f/m²", pricePerSqm)

	if s.store == nil || l.Distrito == "" {
		return perSqm, "District comparison unavailable", nil
	}
	avg, ok, err := s.store.ZoneAvgPricePerSqm(ctx, l.Distrito)
	if err != nil {
		return perSqm, "District comparison unavailable", err
	}
	if !ok || avg <= 0 {
		return perSqm, "No comparable listings in district", nil
	}

	diff := (pricePerSqm - avg) / avg * 100
	switch {
	case diff <= -10:
		return perSqm, fmt.Sprintf("%.1f%% below %s average (€%.0f/m²)", -diff, l.Distrito, avg), nil
	case diff >= 10:
		return perSqm, fmt.Sprintf("%.1f%% above %s average (€%.0f/m²)", diff, l.Distrito, avg), nil
	default:
		return perSqm, fmt.Sprintf("Close to %s average (€%.0f/m²)", l.Distrito, avg), nil
	}
}

// SendMessage sends a message to the configured Telegram chat
func (s *Service) SendMessage(ctx context.Context, message string) error {
	if !s.config.Enabled {
		return nil
	}

	if s.config.BotToken == "" {
		return errors.New("Telegram bot token is not configured")
	}

	if s.config.ChatID == "" {
		return errors.New("Telegram chat ID is not configured")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.config.BotToken)
	payload := map[string]interface{}{
		"chat_id":    s.config.ChatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to build Telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message to Telegram API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return errors.New("invalid bot token - please check your token from @BotFather")
		case http.StatusBadRequest:
			return fmt.Errorf("invalid chat ID or message format: %s", string(body))
		case http.StatusForbidden:
			return errors.New("bot was blocked by the user or chat")
		case http.StatusNotFound:
			return errors.New("bot not found - please check your token from @BotFather")
		default:
			return fmt.Errorf("Telegram API error (status %d): %s", resp.StatusCode, string(body))
		}
	}

	return nil
}

// formatDrop renders one price drop alert.
func formatDrop(l models.Listing, c models.PriceChange, perSqm, analysis string) string {
	rooms := "N/A"
	if l.Rooms != nil {
		rooms = fmt.Sprintf("%d", *l.Rooms)
	}
	size := "N/A"
	if l.SizeSqm != nil {
		size = fmt.Sprintf("%.0f m²", *l.SizeSqm)
	}

	return fmt.Sprintf(
		"<b>📉 Price drop %.1f%%</b>\n\n"+
			"🏠 %s\n"+
			"📍 %s, %s\n"+
			"💰 €%d → €%d\n"+
			"📐 %s\n"+
			"💵 %s\n"+
			"📊 %s\n"+
			"🚪 Rooms: %s\n\n"+
			"🔗 <a href=\"%s\">View on Idealista</a>",
		math.Abs(c.ChangePercent),
		html.EscapeString(l.Title),
		html.EscapeString(l.Barrio),
		html.EscapeString(l.Distrito),
		c.OldPrice,
		c.NewPrice,
		size,
		perSqm,
		html.EscapeString(analysis),
		rooms,
		html.EscapeString(l.URL),
	)
}

// NotifyPriceDrops alerts on each cut of at least the configured percentage
// and returns how many alerts were sent.
func (s *Service) NotifyPriceDrops(ctx context.Context, changes []models.PriceChange) (int, error) {
	if !s.config.Enabled {
		return 0, nil
	}

	limit := -math.Abs(s.config.MinDropPercent)
	var drops []models.PriceChange
	ids := []string{}
	for _, c := range changes {
		if c.ChangeAmount < 0 && c.ChangePercent <= limit {
			drops = append(drops, c)
			ids = append(ids, c.ListingID)
		}
	}
	if len(drops) == 0 {
		return 0, nil
	}

	listings, err := s.store.ListingsByID(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to load listings for alerts: %w", err)
	}

	sent := 0
	var errs []error
	for _, c := range drops {
		l, ok := listings[c.ListingID]
		if !ok {
			l = models.Listing{ListingID: c.ListingID}
		}
		perSqm, analysis, err := s.priceAnalysis(ctx, l, c.NewPrice)
		if err != nil {
			s.logger.WithError(err).WithField("listing_id", c.ListingID).Error("Failed to get price analysis")
		}
		if err := s.SendMessage(ctx, formatDrop(l, c, perSqm, analysis)); err != nil {
			errs = append(errs, fmt.Errorf("listing %s: %w", c.ListingID, err))
			continue
		}
		sent++
	}

	s.logger.WithFields(logrus.Fields{
		"alerts_sent":   sent,
		"alerts_failed": len(errs),
	}).Info("Price drop alerts sent")
	return sent, errors.Join(errs...)
}
