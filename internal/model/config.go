// Package model defines the data structures for taskforge's configuration,
// work items, and stage status machine.
package model

import "sync"

type Config struct {
	Project   ProjectConfig   `yaml:"project"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	LLM       LLMConfig       `yaml:"llm"`
	Git       GitConfig       `yaml:"git"`
	Validator ValidatorConfig `yaml:"validator"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type PipelineConfig struct {
	DataDir         string `yaml:"data_dir"`
	SourcesFile     string `yaml:"sources_file"`
	Workers         int    `yaml:"workers"`
	ReclaimAfterMin int    `yaml:"reclaim_after_min"`
}

type LLMConfig struct {
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  int     `yaml:"max_retries"`
}

type GitConfig struct {
	CloneTimeoutSec int `yaml:"clone_timeout_sec"`
	MaxCommits      int `yaml:"max_commits"`
	// FilePatterns limits commit analysis and extraction to engine-relevant
	// files. Suffix match; empty means everything.
	FilePatterns []string `yaml:"file_patterns"`
}

type ValidatorConfig struct {
	Executable string `yaml:"executable"`
	TestScript string `yaml:"test_script"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultFilePatterns matches the Godot project files the source tutorials
// touch. project.godot is matched by suffix like everything else.
var DefaultFilePatterns = []string{
	".gd", ".tscn", ".tres", ".gdshader", ".gdshaderinc", ".gdextension",
	".png", ".jpg", ".svg", ".wav", ".ogg", ".mp3", "project.godot",
}

// Sources lists the (video, repository) pairs the pipeline ingests.
// Loaded from pipeline.sources_file.
type Sources struct {
	Videos []VideoSource `yaml:"videos"`
	Repos  []RepoSource  `yaml:"repos"`
}

// SourceView is the shared, swappable view of the source list. The
// orchestrator and the stage executors hold the same view, so a reload in
// watch mode is visible everywhere at once.
type SourceView struct {
	mu sync.RWMutex
	s  Sources
}

func NewSourceView(s Sources) *SourceView {
	return &SourceView{s: s}
}

func (v *SourceView) Get() Sources {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.s
}

func (v *SourceView) Set(s Sources) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.s = s
}

type VideoSource struct {
	ID            string `yaml:"id"`
	TranscriptURL string `yaml:"transcript_url"`
	Repo          string `yaml:"repo"`
}

type RepoSource struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

func (c *Config) FilePatterns() []string {
	if len(c.Git.FilePatterns) > 0 {
		return c.Git.FilePatterns
	}
	return DefaultFilePatterns
}

func (c *Config) WorkerCount() int {
	if c.Pipeline.Workers <= 0 {
		return 8
	}
	return c.Pipeline.Workers
}

func (c *Config) ReclaimAfter() int {
	if c.Pipeline.ReclaimAfterMin <= 0 {
		return 60
	}
	return c.Pipeline.ReclaimAfterMin
}
