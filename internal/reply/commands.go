package reply

import (
	"context"

	"shelterbot/internal/domain"
)

const (
	CommandShelter       = "@shelter"
	CommandAdoptionGuide = "@adoption-guide"
)

// Aliases accepted for the same commands.
const (
	aliasShelter       = "@收容所"
	aliasAdoptionGuide = "@新手飼養手冊"
)

// Command builds the fragments for a matched command.
type Command func(ctx context.Context) ([]domain.Fragment, error)

// ShelterSource provides the shelter command's fragments.
type ShelterSource interface {
	Image(ctx context.Context) (domain.ImageFragment, error)
	MapLink() domain.TextFragment
}

// CommandTable maps exact input strings to commands. It is not modified
// after construction.
type CommandTable struct {
	commands map[string]Command
}

func NewCommandTable(shelter ShelterSource, guide domain.TemplateFragment) *CommandTable {
	shelterCmd := func(ctx context.Context) ([]domain.Fragment, error) {
		img, err := shelter.Image(ctx)
		if err != nil {
			return nil, err
		}
		return []domain.Fragment{img, shelter.MapLink()}, nil
	}
	guideCmd := func(context.Context) ([]domain.Fragment, error) {
		return []domain.Fragment{guide}, nil
	}

	return &CommandTable{commands: map[string]Command{
		CommandShelter:       shelterCmd,
		aliasShelter:         shelterCmd,
		CommandAdoptionGuide: guideCmd,
		aliasAdoptionGuide:   guideCmd,
	}}
}

// Resolve looks text up with no normalisation.
func (t *CommandTable) Resolve(text string) (Command, bool) {
	cmd, ok := t.commands[text]
	return cmd, ok
}
