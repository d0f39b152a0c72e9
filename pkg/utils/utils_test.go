package utils

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCityKey(t *testing.T) {
	assert.Equal(t, "bogota", CityKey("Bogotá"))
	assert.Equal(t, "bogota", CityKey("  BOGOTA "))
	assert.Equal(t, "san andres", CityKey("San  Andrés"))
	assert.Equal(t, "", CityKey("   "))
}

func TestNormalizeCity(t *testing.T) {
	assert.Equal(t, "Bogotá", NormalizeCity("  bogotá"))
	assert.Equal(t, "Santa Marta", NormalizeCity("SANTA   MARTA"))
	assert.Equal(t, "", NormalizeCity(""))
}

func TestValidateMessage(t *testing.T) {
	assert.True(t, ValidateMessage("hola"))
	assert.False(t, ValidateMessage("   "))
	assert.False(t, ValidateMessage(strings.Repeat("a", MaxMessageLength+1)))
}

func TestPrefixedID(t *testing.T) {
	a, b := PrefixedID("exec"), PrefixedID("exec")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "exec_"))
}

func TestFormatTime(t *testing.T) {
	at := time.Date(2024, 3, 9, 7, 5, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-09 07:05:00", FormatTime(at))
}

func TestNormalizeCity_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, "San Andrés", NormalizeCity("SAN   ANDRÉS"))
			}
		}()
	}
	wg.Wait()
}
