package model

import "log/slog"

const (
	TargetKindObservable = "observable"
	TargetKindFile       = "file"
)

// Target identifies what a job analyzes. Exactly one of Observable or
// File is set, discriminated by Kind.
type Target struct {
	Kind       string      `json:"kind"` // "observable" | "file"
	Observable *Observable `json:"observable,omitempty"`
	File       *File       `json:"file,omitempty"`
}

// Observable is a value with a classification, e.g. an IP, URL, domain
// or hash.
type Observable struct {
	Value          string `json:"value"`
	Classification string `json:"classification"` // ip | url | domain | hash
}

// File is a sample stored on a local filesystem.
type File struct {
	Path string `json:"path"`
	Name string `json:"name"`
	MD5  string `json:"md5"`
}

func ObservableTarget(value, classification string) Target {
	return Target{
		Kind:       TargetKindObservable,
		Observable: &Observable{Value: value, Classification: classification},
	}
}

func FileTarget(path, name, md5 string) Target {
	return Target{
		Kind: TargetKindFile,
		File: &File{Path: path, Name: name, MD5: md5},
	}
}

// Attrs returns target identity as structured log attributes.
func (t Target) Attrs() []slog.Attr {
	switch {
	case t.Kind == TargetKindObservable && t.Observable != nil:
		return []slog.Attr{
			slog.String("observable", t.Observable.Value),
			slog.String("classification", t.Observable.Classification),
		}
	case t.Kind == TargetKindFile && t.File != nil:
		return []slog.Attr{
			slog.String("filename", t.File.Name),
			slog.String("md5", t.File.MD5),
		}
	default:
		return []slog.Attr{slog.String("target", "unknown")}
	}
}
