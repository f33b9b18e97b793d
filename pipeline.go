// Package dtrsign signs daily time records and leave applications. It
// drives the full pipeline: credential loading, stamp composition,
// incremental PDF update and CMS signing.
package dtrsign

import (
	"context"
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"dtrsign/certstore"
	"dtrsign/config"
	"dtrsign/pdf/generic"
	"dtrsign/pdf/images"
	"dtrsign/pdf/reader"
	"dtrsign/pdf/writer"
	"dtrsign/sign/signers"
	"dtrsign/stamp"
)

// SignRequest carries everything one signing pass needs. A request is
// treated as immutable once submitted; all inputs travel by value or as
// byte slices the pipeline does not modify.
type SignRequest struct {
	// PDF is the document to sign.
	PDF []byte
	// P12 is the signer's PKCS#12 credential.
	P12 []byte
	// Passphrase decrypts the credential.
	Passphrase string
	// Image is the PNG or JPEG stamp image.
	Image []byte

	Role    Role
	DocType DocType

	// Page is the zero-based page carrying the stamps.
	Page int

	// WholeMonth keeps the base stamp coordinates instead of the
	// single-day adjustment. With Days > 0 it stamps one grid cell per
	// day instead of the role's fixed rectangles.
	WholeMonth bool
	// Days is the number of day cells in whole-month grid mode.
	Days int

	// SignerName overrides the certificate subject in the stamp
	// caption and signature dictionary.
	SignerName string
	Reason     string
	Location   string
	Contact    string
}

// Validate checks the request before any work starts.
func (r *SignRequest) Validate() error {
	if len(r.PDF) == 0 {
		return fmt.Errorf("%w: no document bytes", ErrRequest)
	}
	if len(r.P12) == 0 {
		return fmt.Errorf("%w: no credential bytes", ErrRequest)
	}
	if len(r.Image) == 0 {
		return fmt.Errorf("%w: no stamp image", ErrRequest)
	}
	if r.Page < 0 {
		return fmt.Errorf("%w: negative page index", ErrRequest)
	}
	if !r.WholeMonth && r.Days != 0 {
		return fmt.Errorf("%w: day cells need whole-month mode", ErrRequest)
	}
	if r.Days < 0 {
		return fmt.Errorf("%w: negative day count", ErrRequest)
	}
	_, err := PlacementFor(r.DocType, r.Role)
	return err
}

// Result is a completed signing pass.
type Result struct {
	// PDF is the signed document. The input bytes are its strict
	// prefix.
	PDF []byte
	// FieldName is the signature field that was filled.
	FieldName string
	// Digest is the document hash the signature covers.
	Digest []byte
	// SignedAt is the attested signing time.
	SignedAt time.Time
	// Certificate is the signer's end-entity certificate.
	Certificate *x509.Certificate
}

// Options tunes a Pipeline. The zero value is usable: real clock, no
// logging, SHA-256 and the default reservation.
type Options struct {
	Clock  clockwork.Clock
	Logger *zap.Logger

	// Hash is the digest algorithm for the document and the CMS
	// container.
	Hash crypto.Hash
	// ReservedSize is the placeholder capacity in bytes.
	ReservedSize int
	// PreferPSS selects RSASSA-PSS for RSA keys.
	PreferPSS bool

	// Stamp appearance knobs.
	ScaleFactor float64
	Quality     int
	Contrast    float64
	Sharpen     float64
	Opacity     float64
	Caption     bool

	// Whole-month grid layout.
	GridRows     int
	GridCols     int
	GridMaxCells int

	// Placements overrides the built-in layout per role, for every
	// document type.
	Placements map[Role]RolePlacement
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Hash == 0 {
		o.Hash = crypto.SHA256
	}
	if o.ReservedSize <= 0 {
		o.ReservedSize = writer.DefaultReservedSize
	}
	if o.ScaleFactor <= 0 || o.ScaleFactor > 1 {
		o.ScaleFactor = 0.9
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 100
	}
	if o.Contrast <= 0 {
		o.Contrast = 1
	}
	if o.Opacity <= 0 || o.Opacity > 1 {
		o.Opacity = 1
	}
	if o.GridRows <= 0 {
		o.GridRows = 8
	}
	if o.GridCols <= 0 {
		o.GridCols = 4
	}
	if o.GridMaxCells <= 0 {
		o.GridMaxCells = 31
	}
	return o
}

// OptionsFromConfig translates a loaded configuration into pipeline
// options. The credential section is handled by the caller.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	hash, err := cfg.Signing.HashFunc()
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		Hash:         hash,
		ReservedSize: cfg.Signing.ReservedSize,
		ScaleFactor:  cfg.Stamp.ScaleFactor,
		Quality:      cfg.Stamp.Quality,
		Contrast:     cfg.Stamp.Contrast,
		Sharpen:      cfg.Stamp.Sharpen,
		Opacity:      cfg.Stamp.Opacity,
		Caption:      cfg.Stamp.Caption,
		GridRows:     cfg.Grid.Rows,
		GridCols:     cfg.Grid.Cols,
		GridMaxCells: cfg.Grid.MaxCells,
	}
	if cfg.Credential.PKCS12 != nil {
		opts.PreferPSS = cfg.Credential.PKCS12.PreferPSS
	}
	for name, p := range cfg.Placements {
		role, err := ParseRole(name)
		if err != nil {
			return Options{}, err
		}
		base, err := PlacementFor(DocTimeRecord, role)
		if err != nil {
			base, _ = PlacementFor(DocLeaveApplication, role)
			base.GridRegion = dtrGridRegion
		}
		override := RolePlacement{
			FieldName:  base.FieldName,
			AdjustY:    p.AdjustY,
			GridRegion: base.GridRegion,
		}
		for _, r := range p.Rects {
			override.Rects = append(override.Rects, generic.Rect{
				LLX: r.LLX, LLY: r.LLY, URX: r.URX, URY: r.URY,
			})
		}
		if opts.Placements == nil {
			opts.Placements = map[Role]RolePlacement{}
		}
		opts.Placements[role] = override
	}
	return opts, nil
}

// Pipeline runs signing passes. It is safe for concurrent use; each
// request loads and discards its own credential.
type Pipeline struct {
	opts Options
}

// NewPipeline builds a pipeline with defaults applied.
func NewPipeline(opts Options) *Pipeline {
	return &Pipeline{opts: opts.withDefaults()}
}

// Sign runs one full signing pass and returns the signed document.
// On any failure the input is left untouched and nothing is returned;
// the credential is wiped on every exit path.
func (p *Pipeline) Sign(ctx context.Context, req *SignRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := p.opts.Logger.With(
		zap.Stringer("role", req.Role),
		zap.Stringer("doc", req.DocType),
	)
	log.Info("signing pass started",
		zap.Int("pdf_bytes", len(req.PDF)),
		zap.Bool("whole_month", req.WholeMonth),
	)

	doc, err := reader.Parse(req.PDF)
	if err != nil {
		return nil, err
	}

	bundle, err := certstore.Load(req.P12, req.Passphrase)
	if err != nil {
		return nil, err
	}
	defer bundle.Close()

	now := p.opts.Clock.Now().UTC().Truncate(time.Second)
	if err := bundle.Validate(now); err != nil {
		return nil, err
	}
	signer, err := signers.NewBundleSigner(bundle, p.opts.Hash, p.opts.PreferPSS)
	if err != nil {
		return nil, err
	}

	raster, err := images.Decode(req.Image)
	if err != nil {
		return nil, err
	}
	raster = raster.Enhance(p.opts.Contrast, p.opts.Sharpen)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := doc.Page(req.Page)
	if err != nil {
		return nil, err
	}
	layout, err := p.layout(req)
	if err != nil {
		return nil, err
	}
	rects, err := p.rects(req, layout)
	if err != nil {
		return nil, err
	}
	mediaBox := page.MediaBox()
	for _, r := range rects {
		if err := stamp.CheckBounds(r, mediaBox); err != nil {
			return nil, err
		}
	}

	update, err := writer.NewUpdate(doc)
	if err != nil {
		return nil, err
	}

	name := req.SignerName
	if name == "" {
		name = bundle.Certificate.Subject.CommonName
	}
	style := stamp.Style{
		ScaleFactor: p.opts.ScaleFactor,
		Quality:     p.opts.Quality,
		Opacity:     p.opts.Opacity,
		Caption:     p.opts.Caption,
		SignerName:  name,
		SignedAt:    now,
	}
	placements := make([]writer.Placement, 0, len(rects))
	for _, r := range rects {
		ap, err := stamp.BuildAppearance(update, raster, r, style)
		if err != nil {
			return nil, err
		}
		placements = append(placements, writer.Placement{Page: page, Rect: r, Appearance: ap})
	}

	_, field, err := update.AddSignatureField(layout.FieldName, placements)
	if err != nil {
		return nil, err
	}
	if _, err := update.PrepareSignature(field, writer.SignatureParams{
		Name:         name,
		Reason:       req.Reason,
		Location:     req.Location,
		ContactInfo:  req.Contact,
		SigningTime:  now,
		ReservedSize: p.opts.ReservedSize,
	}); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reservation, err := update.Reserve()
	if err != nil {
		return nil, err
	}
	digested, err := reservation.Digest(p.opts.Hash)
	if err != nil {
		return nil, err
	}
	log.Debug("placeholder reserved",
		zap.Int("capacity", reservation.Capacity()),
		zap.Int("placements", len(placements)),
	)

	container, err := signers.BuildContainer(signer, signer.Algorithm(), digested.Sum(), now)
	if err != nil {
		return nil, err
	}
	out, err := digested.Finalize(container)
	if err != nil {
		return nil, err
	}

	log.Info("signing pass finished",
		zap.String("field", layout.FieldName),
		zap.Int("out_bytes", len(out)),
	)
	return &Result{
		PDF:         out,
		FieldName:   layout.FieldName,
		Digest:      digested.Sum(),
		SignedAt:    now,
		Certificate: bundle.Certificate,
	}, nil
}

func (p *Pipeline) layout(req *SignRequest) (RolePlacement, error) {
	if override, ok := p.opts.Placements[req.Role]; ok {
		return override, nil
	}
	return PlacementFor(req.DocType, req.Role)
}

// rects resolves the stamp rectangles for a request: grid cells in
// whole-month grid mode, otherwise the role's rectangles with the
// single-day adjustment applied.
func (p *Pipeline) rects(req *SignRequest, layout RolePlacement) ([]generic.Rect, error) {
	if req.WholeMonth && req.Days > 0 {
		g := stamp.Grid{
			Region:   layout.GridRegion,
			Rows:     p.opts.GridRows,
			Cols:     p.opts.GridCols,
			MaxCells: p.opts.GridMaxCells,
		}
		return g.Cells(req.Days)
	}
	rects := make([]generic.Rect, len(layout.Rects))
	for i, r := range layout.Rects {
		if req.WholeMonth {
			rects[i] = r
		} else {
			rects[i] = r.Translate(0, layout.AdjustY)
		}
	}
	return rects, nil
}
