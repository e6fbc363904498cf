// Package odoo is a crm.RecordStore backed by Odoo's JSON-RPC endpoint.
package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MikeSquared-Agency/closer/internal/crm"
)

const leadModel = "crm.lead"

var leadFields = []string{
	"id", "name", "phone", "contact_name", "email_from", "city",
	"description", "priority",
}

var customLeadFields = []string{
	"x_source", "x_product_interest", "x_budget_range", "x_ai_confidence", "x_quality_score",
}

// Client talks to a single Odoo database as one user.
type Client struct {
	url          string
	db           string
	username     string
	password     string
	customFields bool
	client       *http.Client
	logger       *slog.Logger

	mu  sync.Mutex
	uid int64

	nextID atomic.Int64
}

func NewClient(url, db, username, password string, customFields bool, logger *slog.Logger) *Client {
	return &Client{
		url:          strings.TrimRight(url, "/"),
		db:           db,
		username:     username,
		password:     password,
		customFields: customFields,
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

func (e *rpcError) Error() string {
	if e.Data.Message != "" {
		return fmt.Sprintf("odoo: %s: %s", e.Message, e.Data.Message)
	}
	return "odoo: " + e.Message
}

func (c *Client) call(ctx context.Context, service, method string, args []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("odoo call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("odoo status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decode %s.%s result: %w", service, method, err)
	}
	return nil
}

// login authenticates once and caches the uid.
func (c *Client) login(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid != 0 {
		return c.uid, nil
	}

	var raw json.RawMessage
	if err := c.call(ctx, "common", "login", []any{c.db, c.username, c.password}, &raw); err != nil {
		return 0, fmt.Errorf("login: %w", err)
	}
	var uid int64
	if err := json.Unmarshal(raw, &uid); err != nil || uid == 0 {
		return 0, errors.New("login: invalid credentials")
	}
	c.uid = uid
	c.logger.Info("authenticated with odoo", "db", c.db, "uid", uid)
	return uid, nil
}

func (c *Client) execute(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error {
	uid, err := c.login(ctx)
	if err != nil {
		return err
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return c.call(ctx, "object", "execute_kw",
		[]any{c.db, uid, c.password, model, method, args, kwargs}, out)
}

// FindByPhone returns the oldest lead whose phone or mobile matches, or nil.
func (c *Client) FindByPhone(ctx context.Context, phone string) (*crm.Lead, error) {
	domain := []any{"|", []any{"phone", "ilike", phone}, []any{"mobile", "ilike", phone}}
	fields := leadFields
	if c.customFields {
		fields = append(append([]string{}, leadFields...), customLeadFields...)
	}

	var rows []map[string]any
	err := c.execute(ctx, leadModel, "search_read", []any{domain}, map[string]any{
		"fields": fields,
		"limit":  1,
		"order":  "id asc",
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	lead := decodeLead(rows[0])
	return &lead, nil
}

func (c *Client) Create(ctx context.Context, lead crm.Lead) (int64, error) {
	var id int64
	if err := c.execute(ctx, leadModel, "create", []any{c.vals(lead)}, nil, &id); err != nil {
		return 0, err
	}
	return id, nil
}

func (c *Client) Update(ctx context.Context, id int64, patch crm.Lead) error {
	vals := c.vals(patch)
	if len(vals) == 0 {
		return nil
	}
	return c.execute(ctx, leadModel, "write", []any{[]int64{id}, vals}, nil, nil)
}

// AddNote attaches an internal note to the lead's chatter.
func (c *Client) AddNote(ctx context.Context, id int64, body string) error {
	var msgID int64
	return c.execute(ctx, "mail.message", "create", []any{map[string]any{
		"model":         leadModel,
		"res_id":        id,
		"message_type":  "comment",
		"body":          body,
		"subtype_xmlid": "mail.mt_note",
	}}, nil, &msgID)
}

func (c *Client) Ping(ctx context.Context) error {
	var n int64
	return c.execute(ctx, "res.users", "search_count", []any{[]any{}}, nil, &n)
}

// vals maps the non-empty fields of a lead onto Odoo column names.
func (c *Client) vals(l crm.Lead) map[string]any {
	v := map[string]any{}
	put := func(k, s string) {
		if s != "" {
			v[k] = s
		}
	}
	put("name", l.Title)
	put("phone", l.Phone)
	put("contact_name", l.ContactName)
	put("email_from", l.Email)
	put("city", l.City)
	put("description", l.Description)
	put("priority", l.Priority)

	if c.customFields {
		put("x_source", l.Source)
		put("x_product_interest", strings.Join(l.ProductInterest, ", "))
		put("x_budget_range", l.BudgetRange)
		put("x_quality_score", l.Quality)
		if l.Confidence > 0 {
			v["x_ai_confidence"] = l.Confidence
		}
	}
	return v
}

// decodeLead reads a search_read row. Odoo sends false for unset fields.
func decodeLead(row map[string]any) crm.Lead {
	str := func(k string) string {
		s, _ := row[k].(string)
		return s
	}
	var lead crm.Lead
	if id, ok := row["id"].(float64); ok {
		lead.ID = int64(id)
	}
	lead.Title = str("name")
	lead.Phone = str("phone")
	lead.ContactName = str("contact_name")
	lead.Email = str("email_from")
	lead.City = str("city")
	lead.Description = str("description")
	lead.Priority = str("priority")
	lead.Source = str("x_source")
	lead.BudgetRange = str("x_budget_range")
	lead.Quality = str("x_quality_score")
	if p := str("x_product_interest"); p != "" {
		for _, item := range strings.Split(p, ",") {
			if item = strings.TrimSpace(item); item != "" {
				lead.ProductInterest = append(lead.ProductInterest, item)
			}
		}
	}
	if conf, ok := row["x_ai_confidence"].(float64); ok {
		lead.Confidence = conf
	}
	return lead
}
