package services

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ajramos/casecomms/internal/render"
	"gopkg.in/yaml.v3"
)

var templateVarPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// templateFile is the on-disk layout of a template file
type templateFile struct {
	Template *MessageTemplate `yaml:"template"`
}

// TemplateService loads message templates from a directory of YAML files
type TemplateService struct {
	dir    string
	logger *log.Logger
}

// NewTemplateService creates a template service rooted at dir
func NewTemplateService(dir string) *TemplateService {
	return &TemplateService{dir: dir}
}

// SetLogger sets the logger for debug output
func (s *TemplateService) SetLogger(logger *log.Logger) {
	s.logger = logger
}

// ListTemplates returns the templates usable on channel, sorted by name.
// Templates without a channel are usable on both. Unreadable files are skipped.
func (s *TemplateService) ListTemplates(channel Channel) ([]MessageTemplate, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read templates directory: %w", err)
	}

	var out []MessageTemplate
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		tpl, err := s.loadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("TemplateService: skipping %s: %v", entry.Name(), err)
			}
			continue
		}
		if tpl.Channel == "" || tpl.Channel == channel {
			out = append(out, *tpl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetTemplate loads a template by ID
func (s *TemplateService) GetTemplate(id string) (*MessageTemplate, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("template ID cannot be empty")
	}
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(s.dir, id+ext)
		if _, err := os.Stat(path); err == nil {
			return s.loadFile(path)
		}
	}
	return nil, fmt.Errorf("template not found: %s", id)
}

// SaveTemplate writes tpl to <dir>/<id>.yaml
func (s *TemplateService) SaveTemplate(tpl *MessageTemplate) error {
	if tpl == nil || strings.TrimSpace(tpl.ID) == "" {
		return fmt.Errorf("template ID cannot be empty")
	}
	if tpl.Channel != "" && !tpl.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, tpl.Channel)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create templates directory: %w", err)
	}
	data, err := yaml.Marshal(templateFile{Template: tpl})
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, tpl.ID+".yaml"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write template file: %w", err)
	}
	return nil
}

func (s *TemplateService) loadFile(path string) (*MessageTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse template file: %w", err)
	}
	if f.Template == nil {
		return nil, fmt.Errorf("invalid template file: missing template section")
	}
	if f.Template.ID == "" {
		f.Template.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if f.Template.Channel != "" && !f.Template.Channel.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, f.Template.Channel)
	}
	return f.Template, nil
}

// RenderTemplate substitutes {{var}} placeholders. Unknown placeholders are left as-is.
// HTML bodies are flattened to text for SMS.
func RenderTemplate(tpl *MessageTemplate, channel Channel, vars map[string]string) (subject, body string) {
	replace := func(s string) string {
		return templateVarPattern.ReplaceAllStringFunc(s, func(m string) string {
			name := templateVarPattern.FindStringSubmatch(m)[1]
			if v, ok := vars[name]; ok {
				return v
			}
			return m
		})
	}
	subject = replace(tpl.Subject)
	body = replace(tpl.Body)
	if tpl.HTML && channel == ChannelSMS {
		if text, err := render.PlainText(body); err == nil {
			body = text
		}
	}
	return subject, body
}
