package nya_test

import (
	"testing"

	"github.com/chiobot/chio/extensions/nya"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  nya.Config
		ok   bool
	}{
		{name: "defaults", cfg: nya.Config{Message: "nya!"}, ok: true},
		{name: "responses", cfg: nya.Config{Message: "nya!", Responses: map[string]int{"nyaa": 3}}, ok: true},
		{name: "empty message", cfg: nya.Config{}, ok: false},
		{name: "negative weight", cfg: nya.Config{Message: "nya!", Responses: map[string]int{"nyaa": -1}}, ok: false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			err := c.cfg.Validate()
			if c.ok && err != nil {
				t.Errorf("wrong result: want success, got %v", err)
			}
			if !c.ok && err == nil {
				t.Error("wrong result: want error, got success")
			}
		})
	}
}

func TestConfigName(t *testing.T) {
	t.Parallel()
	var c nya.Config
	if got := c.ConfigName(); got != "nya" {
		t.Errorf("wrong name: %q", got)
	}
}
