package script

import (
	glua "github.com/yuin/gopher-lua"

	"timermux/internal/timer"
)

const luaHandleTypeName = "timer.handle"

func registerHandleType(L *glua.LState) {
	mt := L.NewTypeMetatable(luaHandleTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), handleMethods))
	L.SetField(mt, "__tostring", L.NewFunction(handleString))
}

func newHandle(L *glua.LState, h timer.Handle) *glua.LUserData {
	ud := L.NewUserData()
	ud.Value = h
	L.SetMetatable(ud, L.GetTypeMetatable(luaHandleTypeName))
	return ud
}

func checkHandle(L *glua.LState, n int) timer.Handle {
	ud := L.CheckUserData(n)
	if h, ok := ud.Value.(timer.Handle); ok {
		return h
	}
	L.ArgError(n, "timer handle expected")
	return timer.Handle{}
}

var handleMethods = map[string]glua.LGFunction{
	"id": handleID,
}

// handle:id()
func handleID(L *glua.LState) int {
	L.Push(glua.LString(checkHandle(L, 1).ID()))
	return 1
}

func handleString(L *glua.LState) int {
	L.Push(glua.LString(checkHandle(L, 1).String()))
	return 1
}
