// Package workflow loads execution graph templates and renders them with
// per-job inputs. A template is an arbitrary JSON document with placeholder
// strings, the node layout itself is opaque to us.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrNoPlaceholders returned by Render when the template contains none of
// the recognized placeholders, a sure sign of a template that ignores user
// input.
var ErrNoPlaceholders = errors.New("template contains no placeholders to replace")

// placeholder tokens recognized in template strings
const (
	phPositive = "{{positive_prompt}}"
	phNegative = "{{negative_prompt}}"
	phSeed     = "{{seed}}"
	phWidth    = "{{width}}"
	phHeight   = "{{height}}"
)

// Inputs are the per-job values substituted into the template.
type Inputs struct {
	PositivePrompt string
	NegativePrompt string
	Seed           int32
	Width          int
	Height         int
}

// Template is a parsed workflow graph ready for rendering.
type Template struct {
	root map[string]any
}

// Load reads and parses a workflow template file.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path) //nolint:gosec // the path comes from the operator config
	if err != nil {
		return nil, fmt.Errorf("can't read workflow template: %w", err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("can't parse workflow template %s: %w", path, err)
	}
	return &Template{root: root}, nil
}

// Parse makes a template from raw JSON, used by tests and embedded defaults.
func Parse(data []byte) (*Template, error) {
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("can't parse workflow template: %w", err)
	}
	return &Template{root: root}, nil
}

// Render substitutes the inputs into a deep copy of the template. A string
// node that is exactly a placeholder takes the typed value (numbers stay
// numbers), otherwise placeholders are replaced inside the string. Fails
// with ErrNoPlaceholders when the template came out unchanged.
func (t *Template) Render(in Inputs) (map[string]any, error) {
	exact := map[string]any{
		phPositive: in.PositivePrompt,
		phNegative: in.NegativePrompt,
		phSeed:     int64(in.Seed),
		phWidth:    in.Width,
		phHeight:   in.Height,
	}
	textual := strings.NewReplacer(
		phPositive, in.PositivePrompt,
		phNegative, in.NegativePrompt,
		phSeed, strconv.FormatInt(int64(in.Seed), 10),
		phWidth, strconv.Itoa(in.Width),
		phHeight, strconv.Itoa(in.Height),
	)

	rendered, replaced := substitute(t.root, exact, textual)
	if !replaced {
		return nil, ErrNoPlaceholders
	}
	return rendered.(map[string]any), nil
}

// substitute walks the node tree, returns the rewritten node and whether any
// placeholder was hit anywhere below it.
func substitute(node any, exact map[string]any, textual *strings.Replacer) (any, bool) {
	switch v := node.(type) {
	case map[string]any:
		res := make(map[string]any, len(v))
		replaced := false
		for key, val := range v {
			newVal, changed := substitute(val, exact, textual)
			res[key] = newVal
			replaced = replaced || changed
		}
		return res, replaced

	case []any:
		res := make([]any, len(v))
		replaced := false
		for i, val := range v {
			newVal, changed := substitute(val, exact, textual)
			res[i] = newVal
			replaced = replaced || changed
		}
		return res, replaced

	case string:
		if typed, ok := exact[v]; ok {
			return typed, true
		}
		newVal := textual.Replace(v)
		return newVal, newVal != v

	default:
		return v, false
	}
}

// Default returns the built-in text-to-image workflow, a minimal checkpoint
// load, dual CLIP encode, sample, decode and save graph.
func Default() *Template {
	t, err := Parse([]byte(defaultTemplate))
	if err != nil { // the built-in template is known good
		panic(fmt.Sprintf("broken built-in workflow template: %v", err))
	}
	return t
}

const defaultTemplate = `{
  "3": {
    "class_type": "KSampler",
    "inputs": {
      "cfg": 7,
      "denoise": 1,
      "latent_image": ["5", 0],
      "model": ["4", 0],
      "negative": ["7", 0],
      "positive": ["6", 0],
      "sampler_name": "euler",
      "scheduler": "normal",
      "seed": "{{seed}}",
      "steps": 20
    }
  },
  "4": {
    "class_type": "CheckpointLoaderSimple",
    "inputs": {"ckpt_name": "model.safetensors"}
  },
  "5": {
    "class_type": "EmptyLatentImage",
    "inputs": {"batch_size": 1, "height": "{{height}}", "width": "{{width}}"}
  },
  "6": {
    "class_type": "CLIPTextEncode",
    "inputs": {"clip": ["4", 1], "text": "{{positive_prompt}}"}
  },
  "7": {
    "class_type": "CLIPTextEncode",
    "inputs": {"clip": ["4", 1], "text": "{{negative_prompt}}"}
  },
  "8": {
    "class_type": "VAEDecode",
    "inputs": {"samples": ["3", 0], "vae": ["4", 2]}
  },
  "9": {
    "class_type": "SaveImage",
    "inputs": {"filename_prefix": "comfyq", "images": ["8", 0]}
  }
}`
