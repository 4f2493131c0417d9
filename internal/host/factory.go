package host

import (
	"github.com/conresinc/cloin.eda/internal/config"
	"github.com/conresinc/cloin.eda/internal/source"
	"github.com/conresinc/cloin.eda/internal/source/elastic"
	"github.com/conresinc/cloin.eda/internal/source/mqtt"
	"github.com/conresinc/cloin.eda/internal/source/nextdns"
	"github.com/conresinc/cloin.eda/internal/source/rss"
	"github.com/conresinc/cloin.eda/internal/source/snow"
)

// NewConnector builds the connector for one source spec. Construction
// validates options but opens no connections, so it doubles as the
// dry-run check behind `edase validate`.
func NewConnector(spec config.SourceSpec) (source.Connector, error) {
	opts := source.Options(spec.Options)
	switch spec.Kind {
	case "elastic":
		return elastic.New(spec.Name, opts)
	case "mqtt":
		return mqtt.New(spec.Name, opts)
	case "rss":
		return rss.New(spec.Name, opts)
	case "snow":
		return snow.New(spec.Name, opts)
	case "nextdns":
		return nextdns.New(spec.Name, opts)
	default:
		return nil, source.NewConfigError(spec.Name, "kind", "unknown connector kind "+spec.Kind)
	}
}
