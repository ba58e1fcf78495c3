package chainreg

// seedEntry is the built-in metadata for one chain: enough to work
// before the directory has ever been fetched, plus the Chainlink
// native-token/USD feed the directory does not carry.
type seedEntry struct {
	Name        string
	Currency    string
	ExplorerURL string
	PriceOracle string
	RPCURLs     []string
}

var seedEntries = map[uint64]seedEntry{
	1: {
		Name:        "Ethereum Mainnet",
		Currency:    "ETH",
		ExplorerURL: "https://etherscan.io",
		PriceOracle: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419",
		RPCURLs:     []string{"https://eth.merkle.io", "https://cloudflare-eth.com"},
	},
	10: {
		Name:        "OP Mainnet",
		Currency:    "ETH",
		ExplorerURL: "https://optimistic.etherscan.io",
		PriceOracle: "0x13e3Ee699D1909E989722E753853AE30b17e08c5",
		RPCURLs:     []string{"https://mainnet.optimism.io"},
	},
	56: {
		Name:        "BNB Smart Chain",
		Currency:    "BNB",
		ExplorerURL: "https://bscscan.com",
		PriceOracle: "0x0567f2323251f0aab15c8dfb1967e4e8a7d42aee",
		RPCURLs:     []string{"https://bsc-dataseed.bnbchain.org"},
	},
	137: {
		Name:        "Polygon Mainnet",
		Currency:    "POL",
		ExplorerURL: "https://polygonscan.com",
		PriceOracle: "0xAB594600376Ec9fD91F8e885dADF0CE036862dE0",
		RPCURLs:     []string{"https://polygon-rpc.com"},
	},
	250: {
		Name:        "Fantom Opera",
		Currency:    "FTM",
		ExplorerURL: "https://explorer.fantom.network",
		PriceOracle: "0x11DdD3d147E5b83D01cee7070027092397d63658",
	},
	1088: {
		Name:        "Metis Andromeda",
		Currency:    "METIS",
		ExplorerURL: "https://explorer.metis.io",
		PriceOracle: "0xD4a5Bb03B5D66d9bf81507379302Ac2C2DFDFa6D",
	},
	8453: {
		Name:        "Base",
		Currency:    "ETH",
		ExplorerURL: "https://basescan.org",
		PriceOracle: "0x71041dddad3595F9CEd3DcCFBe3D1F4b0a16Bb70",
		RPCURLs:     []string{"https://mainnet.base.org"},
	},
	42161: {
		Name:        "Arbitrum One",
		Currency:    "ETH",
		ExplorerURL: "https://arbiscan.io",
		PriceOracle: "0x639Fe6ab55C921f74e7fac1ee960C0B6293ba612",
		RPCURLs:     []string{"https://arb1.arbitrum.io/rpc"},
	},
	43114: {
		Name:        "Avalanche C-Chain",
		Currency:    "AVAX",
		ExplorerURL: "https://snowtrace.io",
		PriceOracle: "0x0A77230d17318075983913bC2145DB16C7366156",
		RPCURLs:     []string{"https://api.avax.network/ext/bc/C/rpc"},
	},
	59144: {
		Name:        "Linea",
		Currency:    "ETH",
		ExplorerURL: "https://lineascan.build",
		PriceOracle: "0x3c6Cd9Cc7c7a4c2Cf5a82734CD249D7D593354dA",
		RPCURLs:     []string{"https://rpc.linea.build"},
	},
	534352: {
		Name:        "Scroll",
		Currency:    "ETH",
		ExplorerURL: "https://scrollscan.com",
		PriceOracle: "0x6bF14CB0A831078629D993FDeBcB182b21A8774C",
		RPCURLs:     []string{"https://rpc.scroll.io"},
	},
}

// PriceOracle returns the seeded Chainlink feed address for the chain's
// native token, or empty when none is known.
func PriceOracle(chainID uint64) string {
	return seedEntries[chainID].PriceOracle
}
