package stage

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ProjectStructure summarizes a ground-truth snapshot for the test
// generation prompt.
type ProjectStructure struct {
	MainScene string
	Scenes    []string
	Scripts   []string
	Resources []string
}

// analyzeStructure inventories a snapshot: main scene from project.godot,
// plus scene, script, and resource files by extension.
func analyzeStructure(root string) (ProjectStructure, error) {
	s := ProjectStructure{}

	if content, err := os.ReadFile(filepath.Join(root, "project.godot")); err == nil {
		for _, line := range strings.Split(string(content), "\n") {
			if strings.HasPrefix(line, "run/main_scene=") {
				s.MainScene = strings.Trim(strings.TrimPrefix(line, "run/main_scene="), "\" \r")
				break
			}
		}
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		switch filepath.Ext(rel) {
		case ".tscn":
			s.Scenes = append(s.Scenes, rel)
		case ".gd":
			s.Scripts = append(s.Scripts, rel)
		case ".tres":
			s.Resources = append(s.Resources, rel)
		}
		return nil
	})
	if err != nil {
		return ProjectStructure{}, err
	}
	return s, nil
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
