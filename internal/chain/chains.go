package chain

// Family 链的地址体系
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

// Info 受支持链的静态信息
type Info struct {
	Name    string
	ChainID int64
	Family  Family
}

var supported = map[string]Info{
	"ethereum": {Name: "ethereum", ChainID: 1, Family: FamilyEVM},
	"bsc":      {Name: "bsc", ChainID: 56, Family: FamilyEVM},
	"polygon":  {Name: "polygon", ChainID: 137, Family: FamilyEVM},
	"arbitrum": {Name: "arbitrum", ChainID: 42161, Family: FamilyEVM},
	"base":     {Name: "base", ChainID: 8453, Family: FamilyEVM},
	"solana":   {Name: "solana", Family: FamilySolana},
}

// Lookup 查询链信息
func Lookup(name string) (Info, bool) {
	info, ok := supported[name]
	return info, ok
}

func IsSupported(name string) bool {
	_, ok := supported[name]
	return ok
}

// Names 返回全部受支持的链
func Names() []string {
	names := make([]string, 0, len(supported))
	for name := range supported {
		names = append(names, name)
	}
	return names
}
