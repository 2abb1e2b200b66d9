package theme

import (
	"testing"

	"github.com/chmouel/lazyscc/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestGetThemeFallsBackToDracula(t *testing.T) {
	assert.Equal(t, GetTheme(DraculaName), GetTheme("missing"))
	assert.Equal(t, GetTheme(NordName).Accent, palettes[NordName].Accent)
}

func TestGetThemeReturnsCopy(t *testing.T) {
	th := GetTheme(NordName)
	th.Accent = "#000000"
	assert.NotEqual(t, th.Accent, GetTheme(NordName).Accent)
}

func TestAvailableThemesSorted(t *testing.T) {
	names := AvailableThemes()
	assert.Len(t, names, len(palettes))
	assert.IsNonDecreasing(t, names)
	for _, name := range names {
		assert.NotEmpty(t, GetTheme(name).TextFg, name)
	}
}

func TestDetect(t *testing.T) {
	prev := hasDarkBackground
	t.Cleanup(func() { hasDarkBackground = prev })

	hasDarkBackground = func() bool { return true }
	assert.Equal(t, DefaultDark(), Detect())
	assert.False(t, IsLight(Detect()))

	hasDarkBackground = func() bool { return false }
	assert.Equal(t, DefaultLight(), Detect())
	assert.True(t, IsLight(Detect()))
}

func TestStateColor(t *testing.T) {
	th := GetTheme(DraculaName)
	assert.Equal(t, th.ErrorFg, th.StateColor(models.StateCheckedOutOther))
	assert.Equal(t, th.SuccessFg, th.StateColor(models.StateCheckedOut))
	assert.Equal(t, th.WarnFg, th.StateColor(models.StateNotCurrent))
	assert.Equal(t, th.MutedFg, th.StateColor(models.StateUnknown))
}
