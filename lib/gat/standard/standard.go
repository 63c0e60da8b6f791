package standard

import (
	// base app
	_ "gfx.cafe/gfx/appgat/lib/gat"

	// spawners
	_ "gfx.cafe/gfx/appgat/lib/spawn/spawners/command"
)
