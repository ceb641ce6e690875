package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/nbtools/wugsync/pkg/plugin"
	"go.uber.org/zap"
)

// testPlugin is a minimal module for testing.
type testPlugin struct {
	info     plugin.PluginInfo
	initErr  error
	startErr error
	stops    *[]string
}

func newTestPlugin(name string, deps ...string) *testPlugin {
	return &testPlugin{
		info: plugin.PluginInfo{
			Name:         name,
			Version:      "1.0.0",
			Description:  "test module " + name,
			Dependencies: deps,
			APIVersion:   plugin.APIVersionCurrent,
		},
	}
}

func (p *testPlugin) Info() plugin.PluginInfo                             { return p.info }
func (p *testPlugin) Init(_ context.Context, _ plugin.Dependencies) error { return p.initErr }
func (p *testPlugin) Start(_ context.Context) error                       { return p.startErr }

func (p *testPlugin) Stop(_ context.Context) error {
	if p.stops != nil {
		*p.stops = append(*p.stops, p.info.Name)
	}
	return nil
}

func noopDeps(string) plugin.Dependencies {
	return plugin.Dependencies{Logger: zap.NewNop()}
}

func TestRegister_DuplicateName(t *testing.T) {
	r := New(zap.NewNop())
	if err := r.Register(newTestPlugin("a")); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(newTestPlugin("a")); err == nil {
		t.Fatal("expected error registering duplicate name")
	}
}

func TestRegister_EmptyName(t *testing.T) {
	r := New(zap.NewNop())
	if err := r.Register(newTestPlugin("")); err == nil {
		t.Fatal("expected error registering empty name")
	}
}

func TestValidate_DependencyOrder(t *testing.T) {
	r := New(zap.NewNop())
	r.Register(newTestPlugin("sync", "netbox"))
	r.Register(newTestPlugin("netbox"))

	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 active modules, got %d", len(all))
	}
	if all[0].Info().Name != "netbox" {
		t.Errorf("start order = [%s, %s], want netbox first", all[0].Info().Name, all[1].Info().Name)
	}
}

func TestValidate_MissingDependencyDisablesOptional(t *testing.T) {
	r := New(zap.NewNop())
	r.Register(newTestPlugin("sync", "absent"))

	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !r.IsDisabled("sync") {
		t.Error("expected optional module with missing dependency to be disabled")
	}
}

func TestValidate_MissingDependencyFailsRequired(t *testing.T) {
	r := New(zap.NewNop())
	p := newTestPlugin("sync", "absent")
	p.info.Required = true
	r.Register(p)

	err := r.Validate()
	if err == nil {
		t.Fatal("expected error for required module with missing dependency")
	}
	if !strings.Contains(err.Error(), "absent") {
		t.Errorf("error %q should name the missing dependency", err)
	}
}

func TestValidate_CycleDetection(t *testing.T) {
	r := New(zap.NewNop())
	r.Register(newTestPlugin("a", "b"))
	r.Register(newTestPlugin("b", "a"))

	if err := r.Validate(); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestInitAll_OptionalFailureDisables(t *testing.T) {
	r := New(zap.NewNop())
	bad := newTestPlugin("flaky")
	bad.initErr = context.DeadlineExceeded
	r.Register(bad)
	r.Register(newTestPlugin("solid"))

	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := r.InitAll(context.Background(), noopDeps); err != nil {
		t.Fatalf("InitAll: %v", err)
	}
	if !r.IsDisabled("flaky") {
		t.Error("expected failing optional module to be disabled")
	}
	if _, ok := r.Get("solid"); !ok {
		t.Error("expected healthy module to remain active")
	}
}

func TestStopAll_ReverseOrder(t *testing.T) {
	r := New(zap.NewNop())

	var stops []string
	a := newTestPlugin("a")
	a.stops = &stops
	b := newTestPlugin("b", "a")
	b.stops = &stops
	r.Register(a)
	r.Register(b)

	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	r.InitAll(context.Background(), noopDeps)
	r.StartAll(context.Background())
	r.StopAll(context.Background())

	if len(stops) != 2 || stops[0] != "b" || stops[1] != "a" {
		t.Errorf("stop order = %v, want [b a]", stops)
	}
}

func TestAllRoutes_SkipsNonProviders(t *testing.T) {
	r := New(zap.NewNop())
	r.Register(newTestPlugin("plain"))
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if routes := r.AllRoutes(); len(routes) != 0 {
		t.Errorf("expected no routes, got %v", routes)
	}
}
