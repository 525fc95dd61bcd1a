package export_test

import (
	"strings"
	"testing"
	"time"

	"github.com/c360studio/ontosync/delta"
	"github.com/c360studio/ontosync/export"
	"github.com/c360studio/ontosync/rdf"
	"github.com/c360studio/ontosync/registry"
	"github.com/c360studio/ontosync/vocabulary/ontology"
)

const ns = "http://www.openbase.org/bco/ontology#"

func kitchenLight() registry.Unit {
	return registry.Unit{
		ID:         "kitchen-light",
		Type:       ontology.UnitTypeLight,
		Label:      `Kitchen "main"`,
		LocationID: "kitchen",
		States: map[string]registry.StateValue{
			"POWER_STATE_SERVICE": {Discrete: "ON"},
		},
	}
}

func newExporter(t *testing.T, units ...registry.Unit) *export.Exporter {
	t.Helper()
	exporter := export.NewExporter()
	if err := exporter.AddUnits(delta.NewCompiler(), units, time.Now()); err != nil {
		t.Fatalf("AddUnits failed: %v", err)
	}
	return exporter
}

func TestExportTurtle(t *testing.T) {
	output, err := newExporter(t, kitchenLight()).Export(export.FormatTurtle)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if !strings.Contains(output, "@prefix ont: <"+ns+"> .") {
		t.Error("Turtle output should declare the ontology prefix")
	}
	if strings.Count(output, "\nont:kitchen-light\n") != 1 {
		t.Errorf("subject should appear once as a block header:\n%s", output)
	}
	if !strings.Contains(output, "    a ont:Light ;") {
		t.Error("Turtle output should contain the class assertion")
	}
	if !strings.Contains(output, `ont:hasLabel "Kitchen \"main\""`) {
		t.Error("Turtle output should contain the escaped label")
	}
	if !strings.Contains(output, "ont:hasPowerState") {
		t.Error("Turtle output should contain the current power state")
	}
	if !strings.HasSuffix(strings.TrimSpace(output), " .") {
		t.Error("last statement should be terminated with ' .'")
	}
}

func TestExportNTriples(t *testing.T) {
	output, err := newExporter(t, kitchenLight()).Export(export.FormatNTriples)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 4 {
		t.Fatalf("expected type, location, label and state lines, got %d:\n%s", len(lines), output)
	}
	for _, line := range lines {
		if !strings.HasSuffix(line, " .") {
			t.Errorf("N-Triple line should end with ' .': %s", line)
		}
		if strings.Contains(line, "ont:") {
			t.Errorf("N-Triple line should use absolute IRIs: %s", line)
		}
	}

	want := "<" + ns + "kitchen-light> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <" + ns + "Light> ."
	if lines[0] != want {
		t.Errorf("first line = %q, want %q", lines[0], want)
	}
}

func TestExportNTriples_TypedLiteral(t *testing.T) {
	exporter := export.NewExporter()
	err := exporter.Add(rdf.NewTriple(rdf.Identifier("lamp"), rdf.Identifier("hasBrightness"), rdf.Double(0.5)))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	output, err := exporter.Export(export.FormatNTriples)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	want := `"0.5"^^<http://www.w3.org/2001/XMLSchema#double> .`
	if !strings.Contains(output, want) {
		t.Errorf("output %q should contain %q", output, want)
	}
}

func TestExporter_RejectsPatterns(t *testing.T) {
	exporter := export.NewExporter()
	err := exporter.Add(rdf.NewTriple(rdf.Identifier("lamp"), rdf.IsA, rdf.Any))
	if err == nil {
		t.Fatal("expected error for wildcard triple")
	}
	if exporter.Len() != 0 {
		t.Errorf("Len = %d, want 0", exporter.Len())
	}
}

func TestExporter_InvalidUnit(t *testing.T) {
	exporter := export.NewExporter()
	if err := exporter.AddUnits(delta.NewCompiler(), []registry.Unit{{Type: ontology.UnitTypeLight}}, time.Now()); err == nil {
		t.Fatal("expected error for unit without id")
	}
}

func TestExport_UnsupportedFormat(t *testing.T) {
	if _, err := export.NewExporter().Export("rdfxml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want export.Format
		ok   bool
	}{
		{"turtle", export.FormatTurtle, true},
		{"TTL", export.FormatTurtle, true},
		{".nt", export.FormatNTriples, true},
		{"ntriples", export.FormatNTriples, true},
		{"jsonld", "", false},
	}
	for _, tt := range tests {
		got, err := export.ParseFormat(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseFormat(%q) error = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetFormatInfo(t *testing.T) {
	info, ok := export.GetFormatInfo(export.FormatTurtle)
	if !ok {
		t.Fatal("turtle should be registered")
	}
	if info.MIMEType != "text/turtle" || info.Extension != ".ttl" {
		t.Errorf("unexpected info: %+v", info)
	}
}
