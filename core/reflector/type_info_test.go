package reflector

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStruct struct {
	Name string
}

type anotherStruct struct {
	Value int
}

const pkg = "github.com/Gibbs-Morris/mississippi-sub002/core/reflector"

func TestTypeInfoOf(t *testing.T) {
	ti := TypeInfoOf(testStruct{Name: "test"})
	assert.Equal(t, pkg+".testStruct", ti.Name)
	assert.Equal(t, "reflector.testStruct", ti.ShortName)
	assert.Equal(t, "testStruct", ti.Type.Name())
}

func TestTypeInfoOf_Pointer(t *testing.T) {
	ti := TypeInfoOf(&testStruct{Name: "test"})
	assert.Equal(t, pkg+".testStruct", ti.Name)
	assert.NotEqual(t, reflect.Pointer, ti.Type.Kind())
}

func TestTypeInfoFor(t *testing.T) {
	assert.Equal(t, TypeInfoOf(testStruct{}), TypeInfoFor[testStruct]())
	assert.Equal(t, TypeInfoOf(testStruct{}), TypeInfoFor[*testStruct]())
	assert.NotEqual(t, TypeInfoFor[testStruct]().Name, TypeInfoFor[anotherStruct]().Name)
}

func TestTypeInfo_Unnamed(t *testing.T) {
	assert.Equal(t, "int", TypeInfoFor[int]().ShortName)
	assert.Equal(t, "[]string", TypeInfoFor[[]string]().Name)
	assert.Equal(t, TypeInfo{}, TypeInfoOf(nil))
}

func TestTypeInfo_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.Equal(t, "reflector.anotherStruct", TypeInfoFor[anotherStruct]().ShortName)
		}()
	}
	wg.Wait()
}
