// Package catalog merges per-server tool manifests discovered at the start of
// a request into one deterministic, collision-free catalog.
package catalog

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/lucentlabs/ferry/pkg/models"
)

// Catalog is the merged, de-duplicated set of tools available to one request.
type Catalog struct {
	tools   []models.CatalogTool
	byName  map[string]int // name -> index into tools
	servers map[string]models.ToolServerConfig
	errors  map[string]string // server_id -> discovery error, if any
}

// Build merges manifests, already ordered by server priority, against the
// server set. Discovery failures contribute zero tools but are recorded.
func Build(servers []models.ToolServerConfig, manifests []models.DiscoveredManifest, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "catalog")

	serverByID := make(map[string]models.ToolServerConfig, len(servers))
	for _, s := range servers {
		serverByID[s.ID] = s
	}

	c := &Catalog{
		byName:  make(map[string]int),
		servers: serverByID,
		errors:  make(map[string]string),
	}

	for _, m := range manifests {
		if m.Err != nil {
			c.errors[m.ServerID] = m.Err.Error()
			continue
		}
		server := serverByID[m.ServerID]
		allow := allowSet(server.AllowedTools)

		for _, raw := range m.Tools {
			if allow != nil {
				if _, ok := allow[raw.Name]; !ok {
					continue
				}
			}

			published := raw.Name
			if _, taken := c.byName[published]; taken {
				published = m.ServerID + "_" + raw.Name
				if _, stillTaken := c.byName[published]; stillTaken {
					logger.Warn("dropping tool after prefix collision", "server_id", m.ServerID, "tool", raw.Name)
					continue
				}
			}

			tool := models.CatalogTool{
				Name:         published,
				Description:  raw.Description,
				InputSchema:  raw.InputSchema,
				ServerID:     m.ServerID,
				ServerURL:    server.URL,
				OriginalName: raw.Name,
			}
			c.byName[published] = len(c.tools)
			c.tools = append(c.tools, tool)
		}
	}

	return c
}

func allowSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// FindTool returns the catalog entry published under name, if any.
func (c *Catalog) FindTool(name string) (models.CatalogTool, bool) {
	idx, ok := c.byName[name]
	if !ok {
		return models.CatalogTool{}, false
	}
	return c.tools[idx], true
}

// ToolNames returns every published tool name, in discovery order.
func (c *Catalog) ToolNames() []string {
	names := make([]string, len(c.tools))
	for i, t := range c.tools {
		names[i] = t.Name
	}
	return names
}

// ToolDefinitions returns the input schema for each requested name, silently
// skipping names that are not in the catalog. Duplicate requested names
// produce one entry each in the result map, matching a plain-map idempotence
// law: asking for the same name twice is the same as asking once.
func (c *Catalog) ToolDefinitions(names []string) map[string]interface{} {
	out := make(map[string]interface{})
	for _, name := range names {
		if tool, ok := c.FindTool(name); ok {
			out[name] = tool.InputSchema
		}
	}
	return out
}

// Server returns the configuration for a server by ID.
func (c *Catalog) Server(id string) (models.ToolServerConfig, bool) {
	s, ok := c.servers[id]
	return s, ok
}

// DiscoveryErrors returns the per-server discovery error strings, if any.
func (c *Catalog) DiscoveryErrors() map[string]string {
	return c.errors
}

// RenderSummary renders a short, prompt-safe listing of every tool for the
// LM's system prompt: name plus a truncated, escaped description.
func (c *Catalog) RenderSummary() string {
	names := make([]string, 0, len(c.tools))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		tool, _ := c.FindTool(name)
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(truncateDescription(tool.Description))
		b.WriteString("\n")
	}
	return b.String()
}

const summaryMaxChars = 80

// truncateDescription cuts a description at the first sentence-ending period
// or, failing that, at the last word boundary within summaryMaxChars, and
// escapes characters that could otherwise be read as markdown by the LM.
// Truncation runs on runes, before escaping, so neither a multibyte rune nor
// an escape sequence can be split in half.
func truncateDescription(desc string) string {
	runes := []rune(desc)

	for i, r := range runes {
		if r == '.' && i < summaryMaxChars {
			return escapeMarkdown(string(runes[:i+1]))
		}
	}
	if len(runes) <= summaryMaxChars {
		return escapeMarkdown(desc)
	}

	cut := runes[:summaryMaxChars]
	for i := len(cut) - 1; i > 0; i-- {
		if cut[i] == ' ' {
			cut = cut[:i]
			break
		}
	}
	return escapeMarkdown(string(cut)) + "..."
}

var markdownEscaper = strings.NewReplacer(
	"*", "\\*",
	"_", "\\_",
	"`", "\\`",
	"[", "\\[",
	"]", "\\]",
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
