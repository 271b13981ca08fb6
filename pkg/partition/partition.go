package partition

import (
	"github.com/xhad/deptbot/internal/types"
	"github.com/xhad/deptbot/pkg/processor"
)

// New returns the hosted partitioner when an API key is configured and the
// local one otherwise.
func New(config Config) types.Partitioner {
	if config.APIKey != "" {
		if u, err := NewUnstructured(config); err == nil {
			return u
		}
	}
	return NewLocal(config.ProcessorConfig())
}

// ProcessorConfig carries the chunking options over to the local chunker.
func (c Config) ProcessorConfig() processor.ProcessorConfig {
	return processor.ProcessorConfig{
		MaxCharacters:      c.MaxCharacters,
		NewAfterNChars:     c.NewAfterNChars,
		CombineUnderNChars: c.CombineUnderNChars,
		RemoveStopwords:    c.RemoveStopwords,
		CustomStopwords:    c.CustomStopwords,
	}
}
