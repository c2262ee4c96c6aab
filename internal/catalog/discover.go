package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lucentlabs/ferry/internal/toolserver"
	"github.com/lucentlabs/ferry/pkg/models"
)

// ClientFactory returns the Tool-Server Client used to discover one server's
// tools. Supplied by the caller so discovery shares client construction with
// invocation (see internal/orchestrator.ClientFactory).
type ClientFactory func(server models.ToolServerConfig) *toolserver.Client

// Discover queries tools/list on every enabled server in parallel,
// best-effort: a server that errors or times out contributes an empty
// manifest and a recorded error rather than failing the whole discovery.
// Servers are returned ordered by priority (ties broken by ID) so Build's
// collision-prefix outcome is deterministic, per spec.md §3.
func Discover(ctx context.Context, servers []models.ToolServerConfig, clients ClientFactory, timeout time.Duration) []models.DiscoveredManifest {
	ordered := make([]models.ToolServerConfig, 0, len(servers))
	for _, s := range servers {
		if s.Enabled {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	manifests := make([]models.DiscoveredManifest, len(ordered))
	var wg sync.WaitGroup
	for i, server := range ordered {
		i, server := i, server
		wg.Add(1)
		go func() {
			defer wg.Done()
			manifests[i] = discoverOne(ctx, server, clients, timeout)
		}()
	}
	wg.Wait()

	return manifests
}

func discoverOne(ctx context.Context, server models.ToolServerConfig, clients ClientFactory, timeout time.Duration) models.DiscoveredManifest {
	client := clients(server)
	result, err := client.List(ctx, toolserver.CallOptions{Timeout: timeout})
	if err != nil {
		return models.DiscoveredManifest{ServerID: server.ID, Err: err}
	}
	return models.DiscoveredManifest{ServerID: server.ID, Tools: result.Tools}
}
