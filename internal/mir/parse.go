/*
 * Copyright 2022 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mir

import (
    `strconv`
    `strings`

    `github.com/pkg/errors`
)

type _Parser struct {
    fn     *Function
    bb     *Block
    line   int
    blocks map[int]*Block
    placed map[int]bool
}

// Parse reads every function of a textual machine IR module.
func Parse(src string) ([]*Function, error) {
    var ret []*Function
    var ps *_Parser

    /* parse line by line */
    for i, line := range strings.Split(src, "\n") {
        if line = strings.TrimSpace(line); line == "" || line[0] == '#' || line[0] == ';' {
            continue
        }

        /* function header or body */
        if ps == nil {
            fn, err := parseHeader(line)
            if err != nil {
                return nil, errors.Wrapf(err, "line %d", i + 1)
            }
            ps = &_Parser { fn: fn, blocks: map[int]*Block{}, placed: map[int]bool{} }
            continue
        }

        /* end of function */
        ps.line = i + 1
        if line == "}" {
            if err := ps.finish(); err != nil {
                return nil, err
            }
            ret = append(ret, ps.fn)
            ps = nil
            continue
        }

        /* function body */
        if err := ps.parseLine(line); err != nil {
            return nil, errors.Wrapf(err, "line %d", i + 1)
        }
    }

    /* unterminated function */
    if ps != nil {
        return nil, errors.Errorf("function %s is not terminated", ps.fn.Name)
    } else {
        return ret, nil
    }
}

// ParseFunction reads a module containing exactly one function.
func ParseFunction(src string) (*Function, error) {
    fns, err := Parse(src)
    if err != nil {
        return nil, err
    } else if len(fns) != 1 {
        return nil, errors.Errorf("expected exactly one function, got %d", len(fns))
    } else {
        return fns[0], nil
    }
}

func parseHeader(line string) (*Function, error) {
    fv := strings.Fields(line)
    if len(fv) < 3 || fv[0] != "func" || !strings.HasPrefix(fv[1], "@") || fv[len(fv) - 1] != "{" {
        return nil, errors.Errorf("invalid function header: %q", line)
    }

    /* function name */
    fn := NewFunction(fv[1][1:])
    for _, attr := range fv[2:len(fv) - 1] {
        if attr != "kernel" {
            return nil, errors.Errorf("unknown function attribute %q", attr)
        }
        fn.Kernel = true
    }
    return fn, nil
}

func (self *_Parser) finish() error {
    for id := range self.blocks {
        if !self.placed[id] {
            return errors.Errorf("line %d: block bb.%d is referenced but not defined", self.line, id)
        }
    }

    /* the next block id */
    for _, bb := range self.fn.Blocks {
        if bb.Id >= self.fn.nextid {
            self.fn.nextid = bb.Id + 1
        }
    }

    /* build the CFG */
    self.fn.RebuildCFG()
    return nil
}

func (self *_Parser) block(id int) *Block {
    if bb, ok := self.blocks[id]; ok {
        return bb
    } else {
        bb = &Block { Id: id, Func: self.fn }
        self.blocks[id] = bb
        return bb
    }
}

func (self *_Parser) parseLine(line string) error {
    if strings.HasPrefix(line, "bb.") && strings.HasSuffix(line, ":") {
        return self.parseLabel(line[3:len(line) - 1])
    } else if self.bb == nil {
        return self.parseDecl(line)
    } else {
        return self.parseInstr(line)
    }
}

func (self *_Parser) parseLabel(s string) error {
    id, err := strconv.Atoi(s)
    if err != nil {
        return errors.Errorf("invalid block label bb.%s", s)
    } else if self.placed[id] {
        return errors.Errorf("duplicated block bb.%d", id)
    }

    /* place the block */
    self.bb = self.block(id)
    self.placed[id] = true
    self.fn.Blocks = append(self.fn.Blocks, self.bb)
    return nil
}

func (self *_Parser) parseDecl(line string) error {
    fv := strings.Fields(line)
    key := fv[0]

    /* pipeline state markers */
    switch {
        case key == "banks-resolved" : self.fn.MarkBanksResolved(); return nil
        case key == "allocated"      : return self.parseAllocated(fv)
        case key == "frame-size"     : return self.parseFrameSize(fv)
    }

    /* virtual register and spill slot declarations */
    if len(fv) >= 3 && fv[1] == ":" {
        if strings.HasPrefix(key, "%stack.") {
            return self.parseSlot(key, fv[2:])
        } else if strings.HasPrefix(key, "%") {
            return self.parseVReg(key, fv[2:])
        }
    }

    /* register info */
    if len(fv) != 2 {
        return errors.Errorf("invalid declaration: %q", line)
    }

    /* parse the register */
    reg, sub, err := self.parseReg(fv[1])
    if err != nil {
        return err
    } else if sub != 0 || !reg.IsPhysical() {
        return errors.Errorf("%s must be a physical register", key)
    }

    /* update the function info */
    switch mi := &self.fn.Info; key {
        case "stack-ptr"   : mi.StackPtr = reg
        case "exec-copy"   : mi.ExecCopy = reg
        case "long-branch" : mi.LongBranch = reg
        case "reserved"    : mi.Reserved = append(mi.Reserved, reg)
        case "wwm-reg"     : mi.WWMRegs = append(mi.WWMRegs, reg)
        case "live-in"     : mi.LiveIns = append(mi.LiveIns, reg)
        default            : return errors.Errorf("unknown declaration %q", key)
    }
    return nil
}

func (self *_Parser) parseAllocated(fv []string) error {
    if len(fv) != 2 {
        return errors.New("allocated expects a register file")
    } else if rf, ok := ParseRegFile(fv[1]); !ok {
        return errors.Errorf("unknown register file %q", fv[1])
    } else {
        self.fn.MarkAllocated(rf)
        return nil
    }
}

func (self *_Parser) parseFrameSize(fv []string) error {
    if len(fv) != 2 {
        return errors.New("frame-size expects a size")
    } else if v, err := strconv.Atoi(fv[1]); err != nil {
        return errors.Wrap(err, "invalid frame size")
    } else {
        self.fn.Frame.Size = v
        return nil
    }
}

func (self *_Parser) parseVReg(key string, attrs []string) error {
    id, err := strconv.Atoi(key[1:])
    if err != nil || id != len(self.fn.VRegs) {
        return errors.Errorf("virtual registers must be declared in order, got %s", key)
    }

    /* register class */
    rc, ok := ParseRegClass(attrs[0])
    if !ok {
        return errors.Errorf("unknown register class %q", attrs[0])
    }

    /* register flags */
    var flags VRegFlags
    for _, v := range attrs[1:] {
        switch v {
            case "wwm"        : flags |= FlagWWM
            case "spill-temp" : flags |= FlagSpillTemp
            default           : return errors.Errorf("unknown register attribute %q", v)
        }
    }

    /* declare the register */
    self.fn.NewVRegWithFlags(rc, flags)
    return nil
}

func (self *_Parser) parseSlot(key string, attrs []string) error {
    id, err := strconv.Atoi(key[len("%stack."):])
    if err != nil || id != len(self.fn.Frame.Slots) {
        return errors.Errorf("spill slots must be declared in order, got %s", key)
    }

    /* register file */
    rf, ok := ParseRegFile(attrs[0])
    if !ok {
        return errors.Errorf("unknown register file %q", attrs[0])
    }

    /* slot attributes */
    var size, align, offset int
    var colored bool
    for i := 1; i < len(attrs); i++ {
        if attrs[i] == "colored" {
            colored = true
            continue
        }

        /* key-value pairs */
        if i + 1 >= len(attrs) {
            return errors.Errorf("missing value for slot attribute %q", attrs[i])
        }

        /* parse the value */
        v, err := strconv.Atoi(attrs[i + 1])
        if err != nil {
            return errors.Wrapf(err, "invalid value for slot attribute %q", attrs[i])
        }

        /* update the attribute */
        switch attrs[i] {
            case "size"   : size = v
            case "align"  : align = v
            case "offset" : offset = v
            default       : return errors.Errorf("unknown slot attribute %q", attrs[i])
        }
        i++
    }

    /* declare the slot */
    s := self.fn.Frame.Slot(self.fn.Frame.CreateSpillSlot(size, align, rf))
    s.Offset = offset
    s.Colored = colored
    return nil
}

func (self *_Parser) parseInstr(line string) error {
    var ins Instr
    var lhs string

    /* instruction flags */
    for {
        found := false
        for _, v := range _InstrFlagNames {
            if strings.HasPrefix(line, v.name + " ") {
                found = true
                ins.Flags |= v.flag
                line = strings.TrimSpace(line[len(v.name):])
            }
        }
        if !found {
            break
        }
    }

    /* split the defs */
    if i := strings.Index(line, " = "); i >= 0 {
        lhs, line = line[:i], strings.TrimSpace(line[i + 3:])
    }

    /* opcode */
    name, rest := line, ""
    if i := strings.IndexByte(line, ' '); i >= 0 {
        name, rest = line[:i], strings.TrimSpace(line[i + 1:])
    }

    /* lookup the opcode */
    op, ok := ParseOp(name)
    if !ok {
        return errors.Errorf("unknown opcode %q", name)
    }

    /* explicit defs */
    ins.Op = op
    if lhs != "" {
        for _, v := range strings.Split(lhs, ",") {
            p, err := self.parseOperand(strings.TrimSpace(v))
            if err != nil {
                return err
            } else if p.Kind != KindReg {
                return errors.Errorf("def must be a register, got %q", v)
            }
            p.Flags |= OpDef
            ins.Args = append(ins.Args, p)
        }
    }

    /* remaining operands */
    if rest != "" {
        for _, v := range strings.Split(rest, ",") {
            if p, err := self.parseOperand(strings.TrimSpace(v)); err != nil {
                return err
            } else {
                ins.Args = append(ins.Args, p)
            }
        }
    }

    /* add to the current block */
    self.bb.Append(&ins)
    return nil
}

func (self *_Parser) parseOperand(s string) (Operand, error) {
    var p Operand
    fv := strings.Fields(s)

    /* empty operand */
    if len(fv) == 0 {
        return p, errors.New("empty operand")
    }

    /* operand flags */
    for _, v := range fv[:len(fv) - 1] {
        switch v {
            case "implicit"     : p.Flags |= OpImplicit
            case "implicit-def" : p.Flags |= OpImplicit | OpDef
            case "killed"       : p.Flags |= OpKill
            case "dead"         : p.Flags |= OpDead
            case "undef"        : p.Flags |= OpUndef
            default             : return p, errors.Errorf("unknown operand flag %q", v)
        }
    }

    /* operand value */
    val := fv[len(fv) - 1]
    switch {
        case strings.HasPrefix(val, "%bb.")    : return self.parseBlockRef(p, val[4:])
        case strings.HasPrefix(val, "%stack.") : return self.parseSlotRef(p, val[7:])
        case val[0] == '%' || val[0] == '$'    : return self.parseRegOperand(p, val)
        default                                : return self.parseImm(p, val)
    }
}

func (self *_Parser) parseBlockRef(p Operand, s string) (Operand, error) {
    if id, err := strconv.Atoi(s); err != nil {
        return p, errors.Errorf("invalid block reference %%bb.%s", s)
    } else {
        p.Kind, p.Block = KindBlock, self.block(id)
        return p, nil
    }
}

func (self *_Parser) parseSlotRef(p Operand, s string) (Operand, error) {
    if id, err := strconv.Atoi(s); err != nil || id >= len(self.fn.Frame.Slots) {
        return p, errors.Errorf("invalid spill slot %%stack.%s", s)
    } else {
        p.Kind, p.Slot = KindSlot, id
        return p, nil
    }
}

func (self *_Parser) parseRegOperand(p Operand, s string) (Operand, error) {
    if r, sub, err := self.parseReg(s); err != nil {
        return p, err
    } else {
        p.Kind, p.Reg, p.Sub = KindReg, r, sub
        return p, nil
    }
}

func (self *_Parser) parseImm(p Operand, s string) (Operand, error) {
    if v, err := strconv.ParseInt(s, 0, 64); err != nil {
        return p, errors.Errorf("invalid operand %q", s)
    } else {
        p.Kind, p.Imm = KindImm, v
        return p, nil
    }
}

func (self *_Parser) parseReg(s string) (Reg, uint8, error) {
    var sub uint8

    /* sub-register index */
    if i := strings.Index(s, ".sub"); i >= 0 {
        v, err := strconv.ParseUint(s[i + 4:], 10, 8)
        if err != nil {
            return NoReg, 0, errors.Errorf("invalid sub-register in %q", s)
        }
        s, sub = s[:i], uint8(v) + 1
    }

    /* virtual registers */
    if s[0] == '%' {
        id, err := strconv.Atoi(s[1:])
        if err != nil || id < 0 || id >= len(self.fn.VRegs) {
            return NoReg, 0, errors.Errorf("undeclared virtual register %q", s)
        } else {
            return Virt(id), sub, nil
        }
    }

    /* physical registers */
    r, err := ParsePhysReg(s)
    return r, sub, err
}

// ParsePhysReg parses a physical register name such as $s4, $v[0:1] or $exec.
func ParsePhysReg(s string) (Reg, error) {
    var file RegFile
    name := strings.TrimPrefix(s, "$")

    /* special registers */
    switch name {
        case "noreg" : return NoReg, nil
        case "exec"  : return EXEC, nil
        case "vcc"   : return VCC, nil
        case "m0"    : return M0, nil
        case "scc"   : return SCC, nil
    }

    /* register file */
    if name == "" {
        return NoReg, errors.Errorf("invalid register %q", s)
    }
    switch name[0] {
        case 's' : file = FileScalar
        case 'v' : file = FileVector
        case 'w' : file = FileWholeWave
        default  : return NoReg, errors.Errorf("invalid register %q", s)
    }

    /* single registers */
    if name = name[1:]; !strings.HasPrefix(name, "[") {
        if n, err := strconv.Atoi(name); err != nil || n < 0 {
            return NoReg, errors.Errorf("invalid register %q", s)
        } else {
            return Phys(file, n, 1), nil
        }
    }

    /* register tuples */
    lo, hi, ok := strings.Cut(strings.Trim(name, "[]"), ":")
    if !ok {
        return NoReg, errors.Errorf("invalid register tuple %q", s)
    }

    /* parse the bounds */
    a, err1 := strconv.Atoi(lo)
    b, err2 := strconv.Atoi(hi)
    if err1 != nil || err2 != nil || a < 0 || b < a {
        return NoReg, errors.Errorf("invalid register tuple %q", s)
    } else {
        return Phys(file, a, b - a + 1), nil
    }
}
