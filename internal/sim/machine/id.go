package machine

import (
	"fmt"
	"strconv"
	"strings"

	"beltworks.ai/internal/sim/geom"
)

// FormatID renders the stable machine id: kind@x,y,z of the footprint's minimum corner.
func FormatID(kind Kind, origin geom.Vec3i) string {
	return fmt.Sprintf("%s@%d,%d,%d", kind, origin.X, origin.Y, origin.Z)
}

func ParseID(id string) (kind Kind, origin geom.Vec3i, ok bool) {
	parts := strings.SplitN(id, "@", 2)
	if len(parts) != 2 {
		return "", geom.Vec3i{}, false
	}
	coord := strings.Split(parts[1], ",")
	if len(coord) != 3 {
		return "", geom.Vec3i{}, false
	}
	x, err1 := strconv.Atoi(coord[0])
	y, err2 := strconv.Atoi(coord[1])
	z, err3 := strconv.Atoi(coord[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return "", geom.Vec3i{}, false
	}
	return Kind(parts[0]), geom.Vec3i{X: x, Y: y, Z: z}, true
}
