package animation

import "fmt"

// Bone is a humanoid bone the composer drives.
type Bone int

// Humanoid bones, named as in VRM.
const (
	Hips Bone = iota
	Spine
	Chest
	Neck
	Head
	LeftUpperArm
	RightUpperArm
	LeftLowerArm
	RightLowerArm
	numBones
)

var boneNames = [numBones]string{
	Hips:          "hips",
	Spine:         "spine",
	Chest:         "chest",
	Neck:          "neck",
	Head:          "head",
	LeftUpperArm:  "leftUpperArm",
	RightUpperArm: "rightUpperArm",
	LeftLowerArm:  "leftLowerArm",
	RightLowerArm: "rightLowerArm",
}

var bonesByName = func() map[string]Bone {
	m := make(map[string]Bone, numBones)
	for b, name := range boneNames {
		m[name] = Bone(b)
	}
	return m
}()

// Bones returns every bone in table order.
func Bones() []Bone {
	out := make([]Bone, numBones)
	for i := range out {
		out[i] = Bone(i)
	}
	return out
}

// BoneByName looks a bone up by its VRM name.
func BoneByName(name string) (Bone, bool) {
	b, ok := bonesByName[name]
	return b, ok
}

// Valid reports whether b is in the bone table.
func (b Bone) Valid() bool {
	return b >= 0 && b < numBones
}

func (b Bone) String() string {
	if !b.Valid() {
		return fmt.Sprintf("Bone(%d)", int(b))
	}
	return boneNames[b]
}

// MarshalText encodes the bone by name so it can key JSON objects.
func (b Bone) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("animation: invalid bone %d", int(b))
	}
	return []byte(boneNames[b]), nil
}

// UnmarshalText decodes a bone name.
func (b *Bone) UnmarshalText(text []byte) error {
	v, ok := BoneByName(string(text))
	if !ok {
		return fmt.Errorf("animation: unknown bone %q", text)
	}
	*b = v
	return nil
}
