package animation_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"cutroom/internal/animation"
	"cutroom/internal/services"
)

func TestParseSceneVariants(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kind animation.Kind
	}{
		{"title", `{"kind":"title","title":"Launch day","subtitle":"v2"}`, animation.KindTitle},
		{"lower third", `{"kind":"lower_third","name":"Ada","role":"Host"}`, animation.KindLowerThird},
		{"kinetic", `{"kind":"kinetic_text","lines":["fast","loud"]}`, animation.KindKineticText},
		{"bullets", `{"kind":"bullet_list","heading":"Agenda","items":["one","two"]}`, animation.KindBulletList},
		{"counter", `{"kind":"counter","from":0,"to":100,"suffix":"%"}`, animation.KindCounter},
		{"case and extra fields", `{"kind":" Title ","title":"x","items":["ignored"],"colour":"red"}`, animation.KindTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scene, err := animation.ParseScene([]byte(tt.doc))
			if err != nil {
				t.Fatalf("ParseScene: %v", err)
			}
			if scene.Kind() != tt.kind {
				t.Fatalf("kind = %s, want %s", scene.Kind(), tt.kind)
			}
			if scene.DurationSeconds != animation.DefaultDuration || scene.Width != 1920 || scene.Height != 1080 || scene.FPS != 30 {
				t.Fatalf("defaults not applied: %+v", scene)
			}
		})
	}
}

func TestParseSceneRejects(t *testing.T) {
	tests := map[string]string{
		"unknown kind":     `{"kind":"confetti"}`,
		"missing kind":     `{"title":"x"}`,
		"empty title":      `{"kind":"title","title":"  "}`,
		"no lower name":    `{"kind":"lower_third","role":"Host"}`,
		"blank lines":      `{"kind":"kinetic_text","lines":["",""]}`,
		"too many bullets": `{"kind":"bullet_list","items":["1","2","3","4","5","6","7","8","9"]}`,
		"flat counter":     `{"kind":"counter","from":5,"to":5}`,
		"long duration":    `{"kind":"title","title":"x","durationSeconds":61}`,
		"odd width":        `{"kind":"title","title":"x","width":1279,"height":720}`,
		"fps":              `{"kind":"title","title":"x","fps":240}`,
		"not json":         `title: x`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := animation.ParseScene([]byte(doc)); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSceneMarshalIsFlat(t *testing.T) {
	scene, err := animation.ParseScene([]byte(`{"kind":"lower_third","name":"Ada","durationSeconds":3}`))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(scene)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["kind"] != "lower_third" || fields["name"] != "Ada" || fields["durationSeconds"] != 3.0 || fields["fps"] != 30.0 {
		t.Fatalf("unexpected props document: %s", raw)
	}
	again, err := animation.ParseScene(raw)
	if err != nil || again.Content.(animation.LowerThird).Name != "Ada" {
		t.Fatalf("round trip: %+v %v", again, err)
	}
}

func TestSceneFrames(t *testing.T) {
	scene := animation.Scene{Content: animation.Title{Title: "x"}, DurationSeconds: 2.5, FPS: 30}
	if got := scene.Frames(); got != 75 {
		t.Fatalf("Frames = %d", got)
	}
	if !strings.Contains(strings.Join(animation.Kinds(), ","), "bullet_list,counter") {
		t.Fatalf("Kinds not sorted: %v", animation.Kinds())
	}
}
