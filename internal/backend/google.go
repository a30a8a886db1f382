package backend

import (
	"context"

	translate "cloud.google.com/go/translate"
	xlang "golang.org/x/text/language"
	"google.golang.org/api/option"

	"github.com/meriley/lingua-nexus-sub001/internal/language"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
)

// GoogleTranslator is a hosted NMT backend over the Google Translate API.
// The client is created once at load time and reused.
type GoogleTranslator struct {
	name   string
	client *translate.Client
}

// GoogleDescriptor registers a Google Translate backend. credentials may
// be empty when ambient application-default credentials are available.
func GoogleDescriptor(name, credentials string) Descriptor {
	return Descriptor{
		Name:          name,
		Kind:          KindNLLBLike,
		DefaultSource: "en",
		New: func(ctx context.Context) (Translator, error) {
			var opts []option.ClientOption
			if credentials != "" {
				opts = append(opts, option.WithCredentialsFile(credentials))
			}
			client, err := translate.NewClient(ctx, opts...)
			if err != nil {
				return nil, nexuserr.Wrapf(nexuserr.KindModelLoadFailed, err, "failed to create google translate client")
			}
			return &GoogleTranslator{name: name, client: client}, nil
		},
	}
}

func (s *GoogleTranslator) Name() string { return s.name }

func (s *GoogleTranslator) Capabilities() Capabilities {
	return Capabilities{
		Languages:          commonLanguageMapping(),
		MaxInputChars:      10000,
		SupportsConfidence: false,
	}
}

func (s *GoogleTranslator) Translate(ctx context.Context, text, srcCode, tgtCode string) (*Result, error) {
	if err := checkInput(text, s.Capabilities()); err != nil {
		return nil, err
	}

	tgt, err := xlang.Parse(tgtCode)
	if err != nil {
		return nil, nexuserr.Wrapf(nexuserr.KindBackendFatal, err, "invalid target language %q", tgtCode)
	}

	var opts *translate.Options
	if srcCode != "" && srcCode != language.Auto {
		src, perr := xlang.Parse(srcCode)
		if perr != nil {
			return nil, nexuserr.Wrapf(nexuserr.KindBackendFatal, perr, "invalid source language %q", srcCode)
		}
		opts = &translate.Options{Source: src}
	}

	translations, err := s.client.Translate(ctx, []string{text}, tgt, opts)
	if err != nil {
		return nil, nexuserr.Wrapf(nexuserr.KindBackendTransient, err, "google translation failed")
	}
	if len(translations) == 0 {
		return nil, nexuserr.New(nexuserr.KindBackendTransient, "no translation returned")
	}

	return &Result{Text: translations[0].Text}, nil
}

// Detect uses the API's own language detection and reports "unknown" for
// low-confidence results.
func (s *GoogleTranslator) Detect(ctx context.Context, text string) (string, error) {
	detections, err := s.client.DetectLanguage(ctx, []string{text})
	if err != nil {
		return "", nexuserr.Wrapf(nexuserr.KindBackendTransient, err, "google detection failed")
	}
	if len(detections) == 0 || len(detections[0]) == 0 {
		return language.Unknown, nil
	}
	best := detections[0][0]
	if best.Confidence < 0.5 {
		return language.Unknown, nil
	}
	base, conf := best.Language.Base()
	if conf == xlang.No {
		return language.Unknown, nil
	}
	return base.String(), nil
}

func (s *GoogleTranslator) Health(ctx context.Context) Health {
	if s.client == nil {
		return Down
	}
	return Ready
}

// Close releases the underlying API client; the registry calls it on
// unload.
func (s *GoogleTranslator) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
