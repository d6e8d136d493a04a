// Package locator resolves the identity fields of a case (client, lien
// holder, order type) from a rendered case page.
//
// Each field is resolved by an ordered chain of strategies, from the most
// structural (definition lists) to the most speculative (free text and an
// allow-list of known clients). A candidate that fails the sanity checks
// does not stop resolution; the chain moves on to the next candidate or
// strategy.
package locator

import (
	"context"

	"github.com/jamibilling/rdn-billing/internal/htmlpage"
	"github.com/jamibilling/rdn-billing/internal/models"
	"github.com/jamibilling/rdn-billing/internal/resolve"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// Config tunes the locator.
type Config struct {
	// KnownClients is the allow-list used as the last client strategy.
	KnownClients []string
	// FuzzyClientScore is the minimum Jaro-Winkler score for a fuzzy
	// allow-list match. Zero disables fuzzy matching.
	FuzzyClientScore float64
	// DefaultOrderType fills OrderTo and RepoType when neither resolves.
	DefaultOrderType string
}

// DefaultConfig returns the stock locator configuration.
func DefaultConfig() Config {
	return Config{
		KnownClients:     []string{"Primeritus", "IBEAM", "MasterTrak", "CarsArrive", "PAR North America"},
		FuzzyClientScore: 0.93,
		DefaultOrderType: "Involuntary Repo",
	}
}

// Hints carries state remembered from earlier runs on the same case.
type Hints struct {
	// ClientName is the client resolved structurally on a previous run.
	ClientName string
}

// Result is the outcome of locating the identity of one case.
type Result struct {
	Identity    models.CaseIdentity
	Resolutions map[Field]resolve.Resolution
	// LearnedClientName is set when the client came from the page structure
	// and is trustworthy enough to remember for this case.
	LearnedClientName string
}

// Locator is safe for concurrent use.
type Locator struct {
	cfg    Config
	chains map[Field]*resolve.Chain[*htmlpage.Page]
	log    *logger.Logger
}

// New creates a locator.
func New(cfg Config, log *logger.Logger) *Locator {
	if cfg.DefaultOrderType == "" {
		cfg.DefaultOrderType = DefaultConfig().DefaultOrderType
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Locator{
		cfg: cfg,
		log: log.WithComponent("locator"),
		chains: map[Field]*resolve.Chain[*htmlpage.Page]{
			FieldClient: chainFor(clientSpec,
				definitionList(clientSpec),
				styledContainer(clientSpec),
				labeledCell(clientSpec),
				pageText(clientSpec),
				knownClient(cfg.KnownClients, cfg.FuzzyClientScore),
			),
			FieldLienHolder: chainFor(lienHolderSpec,
				definitionList(lienHolderSpec),
				styledContainer(lienHolderSpec),
				labeledCell(lienHolderSpec),
				pageText(lienHolderSpec),
			),
			FieldOrderTo: chainFor(orderToSpec,
				definitionList(orderToSpec),
				styledContainer(orderToSpec),
				labeledCell(orderToSpec),
				badgeNearOrder(false),
				pageText(orderToSpec),
			),
			FieldRepoType: resolve.NewChain([]resolve.Strategy[*htmlpage.Page]{
				badgeNearOrder(true),
				staticOrderType(),
				repoTypeText(),
			}),
		},
	}
}

func chainFor(spec fieldSpec, strategies ...resolve.Strategy[*htmlpage.Page]) *resolve.Chain[*htmlpage.Page] {
	return resolve.NewChain(strategies,
		resolve.WithNormalize[*htmlpage.Page](normalizeFor(spec)),
		resolve.WithAccept[*htmlpage.Page](saneFor(spec)),
	)
}

// Locate resolves the identity of caseID from page.
func (l *Locator) Locate(ctx context.Context, page *htmlpage.Page, caseID string, hints Hints) Result {
	id := models.NewCaseIdentity(caseID)
	res := Result{Resolutions: make(map[Field]resolve.Resolution, 4)}

	for _, field := range []Field{FieldClient, FieldLienHolder, FieldOrderTo, FieldRepoType} {
		var r resolve.Resolution
		if field == FieldClient && hints.ClientName != "" && isSane(hints.ClientName, clientSpec.labelWords) {
			r = resolve.Resolution{Value: hints.ClientName, Strategy: StrategySession, Found: true}
		} else {
			r = l.chains[field].Resolve(ctx, page)
		}
		res.Resolutions[field] = r

		l.log.Debug("field resolved",
			"case_id", caseID,
			"field", string(field),
			"found", r.Found,
			"strategy", r.Strategy,
			"attempts", len(r.Attempts),
		)

		if !r.Found {
			continue
		}
		switch field {
		case FieldClient:
			id.ClientName = r.Value
			if r.Strategy == StrategyDefinitionList || r.Strategy == StrategyStyledContainer {
				res.LearnedClientName = r.Value
			}
		case FieldLienHolder:
			id.LienHolder = r.Value
		case FieldOrderTo:
			id.OrderTo = r.Value
		case FieldRepoType:
			id.RepoType = r.Value
		}
	}

	res.Identity = Reconcile(id, l.cfg.DefaultOrderType)
	return res
}

// Reconcile applies the cross-field rules between OrderTo and RepoType:
// an OrderTo that names a repo type overrides RepoType; a missing OrderTo
// borrows a resolved RepoType; when neither is known both take defaultType.
func Reconcile(id models.CaseIdentity, defaultType string) models.CaseIdentity {
	orderMissing := models.IsNotFound(id.OrderTo)
	repoMissing := models.IsNotFound(id.RepoType)

	switch {
	case !orderMissing && mentionsRepo(id.OrderTo):
		id.RepoType = id.OrderTo
	case orderMissing && !repoMissing:
		id.OrderTo = id.RepoType
	case orderMissing && repoMissing:
		id.OrderTo = defaultType
		id.RepoType = defaultType
	}
	return id
}
