// Package google mirrors deals into a Google Sheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"dealbook/internal/core"
	applog "dealbook/internal/log"
	ports "dealbook/internal/sheets"
)

const rowCacheTTL = 5 * time.Minute

// Client writes one row per deal into a sheet. Column A holds the deal ID
// and is the lookup key for updates and deletes.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *applog.Logger

	// rows maps deal ID to sheet row; refreshed after rowCacheTTL or a
	// failed write.
	mu        sync.Mutex
	rows      map[string]int
	next      int
	cachedAt  time.Time
	hasHeader bool
}

var _ ports.DealMirror = (*Client)(nil)

// New creates a Sheets client authenticated with service account
// credentials from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, spreadsheetID, sheetName string, logger *applog.Logger) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Deals"
	}
	logger = logger.WithComponent(applog.ComponentSheets)

	svc, err := newSheetsService(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     strings.TrimSpace(sheetName),
		logger:        logger,
	}, nil
}

func newSheetsService(ctx context.Context, logger *applog.Logger) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		logger.InfoContext(ctx, "Using inline service account credentials")
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		logger.InfoContext(ctx, "Reading service account credentials", "path", serviceAccountFile)
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	return gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
}

// UpsertDeal implements ports.DealMirror.
func (c *Client) UpsertDeal(ctx context.Context, d core.Deal) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadRows(ctx); err != nil {
		return err
	}
	if !c.hasHeader {
		if err := c.writeRow(ctx, 1, header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		c.hasHeader = true
		if c.next < 2 {
			c.next = 2
		}
	}

	row, ok := c.rows[d.ID]
	if !ok {
		row = c.next
	}
	if err := c.writeRow(ctx, row, dealRow(d)); err != nil {
		c.invalidate()
		return fmt.Errorf("write deal %s: %w", d.ID, err)
	}
	if !ok {
		c.rows[d.ID] = row
		c.next = row + 1
	}
	c.logger.DebugContext(ctx, "Deal mirrored", applog.FieldDealID, d.ID, "row", row)
	return nil
}

// DeleteDeal implements ports.DealMirror.
func (c *Client) DeleteDeal(ctx context.Context, id string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadRows(ctx); err != nil {
		return err
	}
	row, ok := c.rows[id]
	if !ok {
		c.logger.DebugContext(ctx, "Deal not present in sheet", applog.FieldDealID, id)
		return nil
	}
	rng := rowRange(c.sheetName, row)
	_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		c.invalidate()
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	delete(c.rows, id)
	return nil
}

// loadRows refreshes the ID index from column A when the cache is stale.
// Callers hold c.mu.
func (c *Client) loadRows(ctx context.Context) error {
	if c.rows != nil && time.Since(c.cachedAt) < rowCacheTTL {
		return nil
	}
	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read %s: %w", rng, err)
	}
	c.rows, c.hasHeader = indexRows(resp.Values)
	c.next = nextRow(resp.Values)
	c.cachedAt = time.Now()
	return nil
}

func (c *Client) invalidate() {
	c.rows = nil
}

func (c *Client) writeRow(ctx context.Context, row int, values []any) error {
	rng := rowRange(c.sheetName, row)
	vr := &gsheet.ValueRange{Values: [][]any{values}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	return err
}
