package tui

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszraczylo/lolcaproxy/internal/engine"
	"github.com/lukaszraczylo/lolcaproxy/internal/nginx"
)

func sampleItems() []ProxyItem {
	return []ProxyItem{
		{Host: "localhost", InConfig: true, InHosts: true},
		{Host: "app.local", Port: 3000, Managed: true, InConfig: true, InHosts: true},
		{Host: "api.local", Port: 8080, Managed: true, InConfig: true},
	}
}

func TestItemsFromResult(t *testing.T) {
	res := &engine.Result{
		Success: true,
		Data: &engine.Data{
			ConfigEntries: []string{"localhost", "app.local", "api.local"},
			HostsEntries:  []string{"localhost", "app.local", "stale.local"},
			Proxies: []nginx.ProxyEntry{
				{Host: "app.local", Port: 3000},
				{Host: "api.local", Port: 8080},
			},
		},
	}

	items := ItemsFromResult(res)
	require.Len(t, items, 4)

	assert.Equal(t, ProxyItem{Host: "localhost", InConfig: true, InHosts: true}, items[0])
	assert.Equal(t, ProxyItem{Host: "app.local", Port: 3000, Managed: true, InConfig: true, InHosts: true}, items[1])
	assert.Equal(t, ProxyItem{Host: "api.local", Port: 8080, Managed: true, InConfig: true}, items[2])
	assert.Equal(t, ProxyItem{Host: "stale.local", InHosts: true}, items[3])

	assert.Nil(t, ItemsFromResult(nil))
	assert.Nil(t, ItemsFromResult(&engine.Result{Code: engine.IOError}))
}

func TestListView_SetItems(t *testing.T) {
	lv := NewListView()
	lv.SetItems(sampleItems())

	assert.Equal(t, 3, lv.Len())
	assert.Equal(t, []string{SectionProxies, SectionUnmanaged}, lv.Sections())
	// proxies are listed before unmanaged names
	assert.Equal(t, "app.local", lv.items[0].Host)
	assert.Equal(t, "localhost", lv.items[2].Host)
	assert.Equal(t, 2, lv.ProxyCount())
	assert.Equal(t, 1, lv.DriftCount())
}

func TestListView_Navigation(t *testing.T) {
	lv := NewListView()
	lv.SetItems(sampleItems())

	assert.Equal(t, 0, lv.cursor)

	lv.MoveDown()
	assert.Equal(t, 1, lv.cursor)
	lv.MoveDown()
	assert.Equal(t, 2, lv.cursor)
	lv.MoveDown()
	assert.Equal(t, 2, lv.cursor)

	lv.MoveUp()
	assert.Equal(t, 1, lv.cursor)
	lv.MoveUp()
	lv.MoveUp()
	assert.Equal(t, 0, lv.cursor)
}

func TestListView_Selected(t *testing.T) {
	lv := NewListView()

	t.Run("empty list", func(t *testing.T) {
		assert.Nil(t, lv.Selected())
		assert.Empty(t, lv.SelectedHost())
	})

	t.Run("with items", func(t *testing.T) {
		lv.SetItems(sampleItems())

		item := lv.Selected()
		require.NotNil(t, item)
		assert.Equal(t, "app.local", item.Host)

		lv.MoveDown()
		assert.Equal(t, "api.local", lv.SelectedHost())
	})
}

func TestListView_PendingAndError(t *testing.T) {
	lv := NewListView()
	lv.SetItems(sampleItems())

	lv.SetPending("app.local", true)
	assert.True(t, lv.FindByHost("app.local").Pending)
	lv.SetPending("app.local", false)
	assert.False(t, lv.FindByHost("app.local").Pending)

	lv.SetError("api.local", true)
	assert.True(t, lv.FindByHost("api.local").HasError)

	// unknown hosts are ignored
	lv.SetPending("nonexistent", true)
	lv.SetError("nonexistent", true)
	assert.Nil(t, lv.FindByHost("nonexistent"))
}

func TestListView_Filter(t *testing.T) {
	lv := NewListView()
	lv.SetItems(sampleItems())

	tests := []struct {
		term string
		want []string
	}{
		{"", []string{"app.local", "api.local", "localhost"}},
		{"local", []string{"app.local", "api.local", "localhost"}},
		{"API", []string{"api.local"}},
		{"8080", []string{"api.local"}},
		{"nothing", nil},
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			var hosts []string
			for _, item := range lv.Filter(tt.term) {
				hosts = append(hosts, item.Host)
			}
			assert.Equal(t, tt.want, hosts)
		})
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		name string
		item ProxyItem
		want string
	}{
		{"active", ProxyItem{Managed: true, InConfig: true, InHosts: true}, "● Active"},
		{"config only", ProxyItem{Managed: true, InConfig: true}, "◐ Config only"},
		{"hosts only", ProxyItem{InHosts: true}, "◐ Hosts only"},
		{"unmanaged", ProxyItem{InConfig: true, InHosts: true}, "○ Unmanaged"},
		{"pending", ProxyItem{Managed: true, InConfig: true, InHosts: true, Pending: true}, "◐ Pending"},
		{"error wins", ProxyItem{Pending: true, HasError: true}, "✗ Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusString(tt.item))
		})
	}
}

func TestListView_View(t *testing.T) {
	t.Run("empty list", func(t *testing.T) {
		lv := NewListView()
		assert.Contains(t, lv.View(), "No proxies registered")
	})

	t.Run("with items", func(t *testing.T) {
		lv := NewListView()
		lv.SetItems(sampleItems())

		view := lv.View()
		assert.Contains(t, view, "PROXIES")
		assert.Contains(t, view, "UNMANAGED")
		assert.Contains(t, view, "HOST")
		assert.Contains(t, view, "PORT")
		assert.Contains(t, view, "app.local")
		assert.Contains(t, view, "3000")
		assert.Contains(t, view, "Config only")
	})

	t.Run("filtered", func(t *testing.T) {
		lv := NewListView()
		lv.SetItems(sampleItems())

		view := lv.ViewFiltered("app")
		assert.Contains(t, view, "Search: app (1 results)")
		assert.NotContains(t, view, "api.local")

		assert.Contains(t, lv.ViewFiltered("zzz"), "No results for 'zzz'")
	})
}

func TestListView_CursorBounds(t *testing.T) {
	lv := NewListView()
	lv.SetItems(sampleItems())
	lv.cursor = 2

	lv.SetItems(sampleItems()[:1])
	assert.Equal(t, 0, lv.cursor)

	lv.SetItems(nil)
	assert.Equal(t, 0, lv.Len())
	assert.Equal(t, 0, lv.cursor)
}

func TestListView_RemoveSimulation(t *testing.T) {
	lv := NewListView()
	lv.SetItems(sampleItems())

	lv.MoveDown()
	require.Equal(t, "api.local", lv.SelectedHost())

	items := sampleItems()
	lv.SetItems(items[:2])

	assert.Equal(t, 2, lv.Len())
	assert.Nil(t, lv.FindByHost("api.local"))
	assert.LessOrEqual(t, lv.cursor, lv.Len()-1)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
		{"", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, truncate(tt.input, tt.maxLen))
		})
	}
}

func TestListView_Navigation_Matrix(t *testing.T) {
	for _, size := range []int{1, 5, 10, 100} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			items := make([]ProxyItem, size)
			for i := range items {
				items[i] = ProxyItem{Host: fmt.Sprintf("host%d.local", i), Port: 3000 + i, Managed: true, InConfig: true, InHosts: true}
			}
			lv := NewListView()
			lv.SetItems(items)

			for i := 0; i < size*2; i++ {
				lv.MoveDown()
			}
			assert.Equal(t, size-1, lv.cursor)

			for i := 0; i < size*2; i++ {
				lv.MoveUp()
			}
			assert.Equal(t, 0, lv.cursor)
		})
	}
}

func BenchmarkListView_View(b *testing.B) {
	items := make([]ProxyItem, 50)
	for i := range items {
		items[i] = ProxyItem{Host: fmt.Sprintf("host%d.local", i), Port: 3000 + i, Managed: i%2 == 0, InConfig: true, InHosts: i%3 != 0}
	}
	lv := NewListView()
	lv.SetItems(items)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = lv.View()
	}
}
