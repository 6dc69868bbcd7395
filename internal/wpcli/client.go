package wpcli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// gmtLayout is the tool's timestamp format for *_gmt fields.
const gmtLayout = "2006-01-02 15:04:05"

// Site is one site of the installation.
type Site struct {
	BlogID flexInt `json:"blog_id"`
	URL    string  `json:"url"`
}

// CronEvent is one row of "cron event list".
type CronEvent struct {
	Hook       string
	NextRun    time.Time
	Recurrence string
}

// Component is one row of "plugin list" or "theme list".
type Component struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	Version       string `json:"version"`
	UpdateVersion string `json:"update_version"`
}

// flexInt accepts both JSON numbers and numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("parse integer %s: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}

// Client wraps an Executor with typed commands.
type Client struct {
	exec Executor
}

// NewClient creates a Client.
func NewClient(e Executor) *Client {
	return &Client{exec: e}
}

// ListSites returns every site URL. A single-site installation yields its
// home URL.
func (c *Client) ListSites(ctx context.Context) ([]Site, error) {
	out, err := c.exec.Execute(ctx, "site", "list", "--fields=blog_id,url", "--format=json")
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "not a multisite") {
			home, err := c.exec.Execute(ctx, "option", "get", "home")
			if err != nil {
				return nil, err
			}
			return []Site{{BlogID: 1, URL: strings.TrimSpace(home)}}, nil
		}
		return nil, err
	}
	var sites []Site
	if err := json.Unmarshal([]byte(out), &sites); err != nil {
		return nil, fmt.Errorf("parse site list: %w", err)
	}
	return sites, nil
}

// CronEvents lists the scheduled hooks of a site.
func (c *Client) CronEvents(ctx context.Context, site string) ([]CronEvent, error) {
	out, err := c.exec.Execute(ctx, "cron", "event", "list",
		"--fields=hook,next_run_gmt,recurrence", "--format=csv", "--url="+site)
	if err != nil {
		return nil, err
	}
	return parseCronCSV(out)
}

// RunCronEvents fires the named hooks on a site now.
func (c *Client) RunCronEvents(ctx context.Context, site string, hooks ...string) error {
	if len(hooks) == 0 {
		return nil
	}
	args := append([]string{"cron", "event", "run"}, hooks...)
	_, err := c.exec.Execute(ctx, append(args, "--url="+site)...)
	return err
}

// Components lists the installed components of kind ("plugin" or "theme").
func (c *Client) Components(ctx context.Context, site, kind string) ([]Component, error) {
	out, err := c.exec.Execute(ctx, kind, "list",
		"--fields=name,status,version,update_version", "--format=json", "--url="+site)
	if err != nil {
		return nil, err
	}
	var list []Component
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		return nil, fmt.Errorf("parse %s list: %w", kind, err)
	}
	return list, nil
}

// Install installs a component. force reinstalls over an existing copy.
func (c *Client) Install(ctx context.Context, site, kind, id string, force bool) error {
	args := []string{kind, "install", id, "--url=" + site}
	if force {
		args = append(args, "--force")
	}
	_, err := c.exec.Execute(ctx, args...)
	return err
}

// Update updates a component, to version when non-empty.
func (c *Client) Update(ctx context.Context, site, kind, id, version string) error {
	args := []string{kind, "update", id, "--url=" + site}
	if version != "" {
		args = append(args, "--version="+version)
	}
	_, err := c.exec.Execute(ctx, args...)
	return err
}

// CoreUpdate updates the core files and then migrates every site database.
func (c *Client) CoreUpdate(ctx context.Context) error {
	if _, err := c.exec.Execute(ctx, "core", "update"); err != nil {
		return err
	}
	_, err := c.exec.Execute(ctx, "core", "update-db", "--network")
	return err
}

func parseCronCSV(out string) ([]CronEvent, error) {
	r := csv.NewReader(strings.NewReader(out))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse cron list header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	hookCol, ok1 := col["hook"]
	runCol, ok2 := col["next_run_gmt"]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("cron list missing hook or next_run_gmt column: %v", header)
	}
	recCol, hasRec := col["recurrence"]

	var events []CronEvent
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse cron list: %w", err)
		}
		if len(rec) <= hookCol || len(rec) <= runCol {
			continue
		}
		at, err := time.ParseInLocation(gmtLayout, strings.TrimSpace(rec[runCol]), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse next_run_gmt %q: %w", rec[runCol], err)
		}
		ev := CronEvent{Hook: rec[hookCol], NextRun: at}
		if hasRec && len(rec) > recCol {
			ev.Recurrence = rec[recCol]
		}
		events = append(events, ev)
	}
	return events, nil
}
