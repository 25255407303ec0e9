package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stevenzev/expressdiff/internal/config"
	"github.com/stevenzev/expressdiff/internal/stage"
)

func testEngine(t *testing.T) (*Engine, *config.Config) {
	t.Helper()
	installDir := t.TempDir()
	workDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(installDir, "slurm_templates"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(workDir, "generated_slurm"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{InstallDir: installDir, WorkDir: workDir}
	return New(cfg), cfg
}

func writeTemplate(t *testing.T, cfg *config.Config, name, body string) {
	t.Helper()
	path := filepath.Join(cfg.TemplatesDir(), name+".template")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGenerate_SubstitutesKnownPlaceholders(t *testing.T) {
	e, cfg := testEngine(t)
	writeTemplate(t, cfg, "trim", "#!/bin/bash\n# run {RUN_ID} account {ACCOUNT}\ncd {BASE_DIR}\nrundir={RUN_DIR}\nadapter={ADAPTER_TYPE}\n")

	gs, err := e.Generate(stage.Trim, "R", "acct-A", "TruSeq3-PE", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := os.ReadFile(gs.Path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(b)
	for _, want := range []string{"R", cfg.WorkDir, "TruSeq3-PE", cfg.RunDir("R")} {
		if !containsStr(content, want) {
			t.Fatalf("rendered script missing %q:\n%s", want, content)
		}
	}
	if containsStr(content, "{") {
		t.Fatalf("rendered script still has a placeholder:\n%s", content)
	}
}

func TestGenerate_UnknownPlaceholderIsTemplateError(t *testing.T) {
	e, cfg := testEngine(t)
	writeTemplate(t, cfg, "star", "#!/bin/bash\necho {NOT_A_REAL_TOKEN}\n")

	if _, err := e.Generate(stage.STAR, "R", "acct-A", "NexteraPE-PE", nil); err == nil {
		t.Fatalf("expected TemplateError for unknown placeholder")
	}
}

func TestGenerate_UnknownExtrasKeysAreIgnored(t *testing.T) {
	e, cfg := testEngine(t)
	writeTemplate(t, cfg, "qc_raw", "#!/bin/bash\necho {RUN_ID}\n")

	_, err := e.Generate(stage.QCRaw, "R", "acct-A", "NexteraPE-PE", map[string]string{"UNUSED_EXTRA": "value"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerate_ExtrasCanSupplyAdditionalPlaceholders(t *testing.T) {
	e, cfg := testEngine(t)
	writeTemplate(t, cfg, "featurecounts", "#!/bin/bash\necho {GTF_PATH}\n")

	gs, err := e.Generate(stage.FeatureCounts, "R", "acct-A", "NexteraPE-PE", map[string]string{"gtf_path": "/ref/genes.gtf"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := os.ReadFile(gs.Path)
	if !containsStr(string(b), "/ref/genes.gtf") {
		t.Fatalf("expected extras value substituted, got:\n%s", b)
	}
}

func TestGenerate_MissingTemplateFileIsTemplateError(t *testing.T) {
	e, _ := testEngine(t)
	if _, err := e.Generate(stage.DESeq2, "R", "acct-A", "NexteraPE-PE", nil); err == nil {
		t.Fatalf("expected TemplateError when template file is missing")
	}
}

func TestGenerate_RenderingTwiceIsByteIdentical(t *testing.T) {
	e, cfg := testEngine(t)
	writeTemplate(t, cfg, "qc_trimmed", "#!/bin/bash\necho {RUN_ID} {ACCOUNT} {ADAPTER_TYPE}\n")

	gs1, err := e.Generate(stage.QCTrimmed, "R", "acct-A", "TruSeq2-SE", nil)
	if err != nil {
		t.Fatal(err)
	}
	gs2, err := e.Generate(stage.QCTrimmed, "R", "acct-A", "TruSeq2-SE", nil)
	if err != nil {
		t.Fatal(err)
	}
	if gs1.Checksum != gs2.Checksum {
		t.Fatalf("expected identical checksums, got %s vs %s", gs1.Checksum, gs2.Checksum)
	}
	b1, _ := os.ReadFile(gs1.Path)
	b2, _ := os.ReadFile(gs2.Path)
	if string(b1) != string(b2) {
		t.Fatalf("expected byte-identical renders")
	}
}

func TestGenerate_MissingTemplatesDirIsConfigError(t *testing.T) {
	installDir := t.TempDir() // no slurm_templates/ subdir created
	workDir := t.TempDir()
	cfg := &config.Config{InstallDir: installDir, WorkDir: workDir}
	e := New(cfg)
	if _, err := e.Generate(stage.QCRaw, "R", "acct-A", "NexteraPE-PE", nil); err == nil {
		t.Fatalf("expected ConfigError when slurm_templates/ is missing")
	}
}

func containsStr(haystack, needle string) bool {
	return len(needle) == 0 || indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
